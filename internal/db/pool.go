package db

import "github.com/jmoiron/sqlx"

// Pool splits statement traffic across a write handle and a read handle.
//
// SQLite runs in WAL mode here: the write handle is capped at one open
// connection so writes serialize instead of tripping SQLITE_BUSY, while
// reads fan out over their own connections against WAL snapshots. With
// Postgres both handles are the same *sqlx.DB and pgx does the pooling.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is the handle for mutations and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is the handle for queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader == p.writer {
		// Shared handle (Postgres); closing twice would error.
		return err
	}
	if rErr := p.reader.Close(); err == nil {
		err = rErr
	}
	return err
}
