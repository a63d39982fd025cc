package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalChunkSerialization(t *testing.T) {
	t.Run("denial serializes an explicit false", func(t *testing.T) {
		data, err := json.Marshal(ApprovalResolvedChunk("ap-1", false))
		require.NoError(t, err)

		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &fields))
		approved, present := fields["approved"]
		assert.True(t, present, "a denied resolution must carry the approved field")
		assert.Equal(t, false, approved)
	})

	t.Run("unsandboxed request serializes an explicit false", func(t *testing.T) {
		data, err := json.Marshal(ApprovalRequestedChunk("ap-1", "rm build", false))
		require.NoError(t, err)

		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &fields))
		sandboxed, present := fields["is_sandboxed"]
		assert.True(t, present, "an unsandboxed request must carry the is_sandboxed field")
		assert.Equal(t, false, sandboxed)
	})
}
