package bridge

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ListenConn is the slice of a database connection the bridge needs.
// Tests substitute a fake; production wraps a dedicated *pgx.Conn,
// dialed apart from the statement pool because WaitForNotification
// monopolizes its connection.
type ListenConn interface {
	Exec(ctx context.Context, sql string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer establishes a fresh listening session. Called once at startup
// and again after every session loss.
type Dialer func(ctx context.Context) (ListenConn, error)

type pgxListenConn struct {
	conn *pgx.Conn
}

func (c *pgxListenConn) Exec(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)
	return err
}

func (c *pgxListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.WaitForNotification(ctx)
}

func (c *pgxListenConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// PgDialer returns a Dialer that opens a dedicated Postgres connection
// for the listen session.
func PgDialer(dsn string) Dialer {
	return func(ctx context.Context) (ListenConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &pgxListenConn{conn: conn}, nil
	}
}
