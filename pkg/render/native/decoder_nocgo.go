//go:build !cgo

package native

import (
	"context"
	"errors"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/render"
)

const available = false

var errUnavailable = errors.New("native: built without cgo, MuPDF binding unavailable")

func open(_ context.Context, _ *acquire.AcquiredInput, _ logging.Logger, _ int64) (render.Decoder, error) {
	return nil, &render.DecodeOpenError{Kind: render.KindNative, Detail: "native decoder unavailable", Err: errUnavailable}
}
