package warc

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
)

// Opener implements corpus.ArchiveOpener over local WARC files.
type Opener struct {
	decoder Decoder
	logger  *zap.Logger
	opts    []Option
}

// NewOpener returns an Opener that decodes payloads with decoder. opts are
// applied to every Reader after the decoder and logger.
func NewOpener(decoder Decoder, logger *zap.Logger, opts ...Option) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{decoder: decoder, logger: logger, opts: opts}
}

// Open starts a new record sequence over path.
func (o *Opener) Open(path string) (corpus.RecordReader, error) {
	opts := append([]Option{WithDecoder(o.decoder), WithLogger(o.logger)}, o.opts...)
	r, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}
