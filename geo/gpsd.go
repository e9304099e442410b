// ABOUTME: gpsd position provider speaking the gpsd JSON watch protocol over TCP
// ABOUTME: Returns the first TPV report carrying a usable fix
package geo

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"syscall"
	"time"
)

// DefaultGPSDAddr is where gpsd listens by default.
const DefaultGPSDAddr = "127.0.0.1:2947"

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// GPSD reads positions from a gpsd daemon.
type GPSD struct {
	Addr string
}

type tpvReport struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"`
	Time  time.Time `json:"time"`
	Lat   *float64  `json:"lat"`
	Lon   *float64  `json:"lon"`
	Eph   float64   `json:"eph"`
	Epx   float64   `json:"epx"`
	Epy   float64   `json:"epy"`
}

// gpsd fix modes.
const (
	mode2D = 2
	mode3D = 3
)

// Position waits for a TPV fix. High accuracy requires a 3D fix.
func (g GPSD) Position(ctx context.Context, highAccuracy bool) (Fix, error) {
	addr := g.Addr
	if addr == "" {
		addr = DefaultGPSDAddr
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return Fix{}, fmt.Errorf("%w: gpsd not running at %s", ErrUnavailable, addr)
		}
		return Fix{}, fmt.Errorf("failed to connect to gpsd: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return Fix{}, fmt.Errorf("failed to send gpsd watch: %w", err)
	}

	minMode := mode2D
	if highAccuracy {
		minMode = mode3D
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var r tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if r.Class != "TPV" || r.Mode < minMode || r.Lat == nil || r.Lon == nil {
			continue
		}
		return Fix{
			Lat:      *r.Lat,
			Lng:      *r.Lon,
			Accuracy: accuracy(r),
			Time:     r.Time,
		}, nil
	}

	if ctx.Err() != nil {
		return Fix{}, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return Fix{}, fmt.Errorf("failed to read gpsd stream: %w", err)
	}
	return Fix{}, fmt.Errorf("%w: gpsd closed the stream without a fix", ErrUnavailable)
}

func accuracy(r tpvReport) float64 {
	if r.Eph > 0 {
		return r.Eph
	}
	return math.Max(r.Epx, r.Epy)
}
