package uploader

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Serve accepts collector connections on ln and hands every parsed line to
// handle. Lines that do not parse are logged and skipped. It returns when
// ctx is done.
func Serve(ctx context.Context, ln net.Listener, logger *zap.Logger, handle func(Record)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				rec, err := Parse(scanner.Text())
				if err != nil {
					logger.Warn("unparseable line",
						zap.String("remote", conn.RemoteAddr().String()),
						zap.Error(err))
					continue
				}
				handle(rec)
			}
		}()
	}
}
