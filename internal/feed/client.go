package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Tail connects to a TCP feed and calls fn for every package event until ctx
// ends or the connection drops. The welcome line and non-event lines are
// skipped.
func Tail(ctx context.Context, addr string, fn func(PackageEvent)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var ev PackageEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.PackageID == 0 {
			continue
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	return fmt.Errorf("feed %s closed the connection", addr)
}

// TailForever re-runs Tail after every disconnect, waiting backoff in between.
func TailForever(ctx context.Context, addr string, backoff time.Duration, fn func(PackageEvent), onErr func(error)) {
	for {
		err := Tail(ctx, addr, fn)
		if ctx.Err() != nil {
			return
		}
		if onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
