package middleware

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

const (
	AlgorithmGzip       = "gzip"
	AlgorithmDeflate    = "deflate"
	AlgorithmBrotli     = "br"
	DefaultLevel        = 6
	DefaultThreshold    = 1024
	MinCompressionRatio = 0.05
)

var defaultAllowedTypes = []string{
	"application/json",
	"application/xml",
	"application/javascript",
	"text/*",
}

type CompressionMiddleware struct {
	logger            types.Logger
	metrics           types.MetricsManager
	compressionConfig *CompressionConfig
	weight            int
	algorithm         []byte
	bufferPool        sync.Pool
	newWriter         func(io.Writer) (io.WriteCloser, error)
}

type CompressionConfig struct {
	Algorithm    string   `json:"algorithm"`
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Algorithm:    AlgorithmBrotli,
		Level:        DefaultLevel,
		Threshold:    DefaultThreshold,
		AllowedTypes: defaultAllowedTypes,
	}

	item := config.GetConfig().Middlewares.Compression
	if err := utils.UnmarshalConfig(item.Params, compressionConfig); err != nil {
		logger.Error("Failed to unmarshal compression middleware config", zap.Error(err))
	}

	if err := validateCompressionConfig(compressionConfig); err != nil {
		logger.Warn("Invalid compression config, using defaults", zap.Error(err))
		compressionConfig = &CompressionConfig{
			Algorithm:    AlgorithmBrotli,
			Level:        DefaultLevel,
			Threshold:    DefaultThreshold,
			AllowedTypes: defaultAllowedTypes,
		}
	}

	c := &CompressionMiddleware{
		logger:            logger,
		metrics:           metrics,
		compressionConfig: compressionConfig,
		weight:            item.Weight,
		algorithm:         []byte(compressionConfig.Algorithm),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 4096))
			},
		},
	}

	level := compressionConfig.Level
	switch compressionConfig.Algorithm {
	case AlgorithmGzip:
		c.newWriter = func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriterLevel(w, level) }
	case AlgorithmDeflate:
		c.newWriter = func(w io.Writer) (io.WriteCloser, error) { return flate.NewWriter(w, level) }
	default:
		c.newWriter = func(w io.Writer) (io.WriteCloser, error) { return brotli.NewWriterLevel(w, level), nil }
	}

	return c
}

func validateCompressionConfig(config *CompressionConfig) error {
	if config.Level < -1 || config.Level > 9 {
		return types.Errorf(types.ErrInvalidParameter, "compression level %d (must be between -1 and 9)", config.Level)
	}

	if config.Threshold < 0 {
		return types.Errorf(types.ErrInvalidParameter, "threshold %d (must be >= 0)", config.Threshold)
	}

	switch config.Algorithm {
	case AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli:
	default:
		return types.Errorf(types.ErrInvalidParameter, "unsupported algorithm: %s", config.Algorithm)
	}

	return nil
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next types.FastHTTPHandler, _ *types.RouteConfig) {
	next(ctx)

	if !bytes.Contains(ctx.Request.Header.Peek("Accept-Encoding"), c.algorithm) {
		return
	}

	if len(ctx.Response.Header.Peek("Content-Encoding")) > 0 {
		return
	}

	if !c.shouldCompress(ctx.Response.Header.ContentType()) {
		return
	}

	c.compressResponse(ctx)
}

func (c *CompressionMiddleware) shouldCompress(contentType []byte) bool {
	if len(contentType) == 0 {
		return false
	}

	ct := string(contentType)
	if semicolon := strings.Index(ct, ";"); semicolon != -1 {
		ct = ct[:semicolon]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == ct {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (c *CompressionMiddleware) compressResponse(ctx *fasthttp.RequestCtx) {
	body := ctx.Response.Body()
	originalSize := len(body)

	if originalSize < c.compressionConfig.Threshold {
		return
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := c.compress(buf, body); err != nil {
		c.logger.Warn("Response compression failed", zap.Error(err))
		return
	}

	ratio := float64(buf.Len()) / float64(originalSize)
	if 1.0-ratio < MinCompressionRatio {
		return
	}

	ctx.Response.SetBody(buf.Bytes())
	ctx.Response.Header.SetContentEncodingBytes(c.algorithm)
	ctx.Response.Header.SetContentLength(buf.Len())
	c.addVary(ctx)

	if c.metrics != nil {
		c.metrics.Counter("http_compressed_bytes_saved_total", map[string]string{
			"algorithm": c.compressionConfig.Algorithm,
		}).Add(float64(originalSize - buf.Len()))
	}
}

func (c *CompressionMiddleware) compress(w io.Writer, data []byte) error {
	writer, err := c.newWriter(w)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}

	return writer.Close()
}

func (c *CompressionMiddleware) addVary(ctx *fasthttp.RequestCtx) {
	existing := ctx.Response.Header.Peek("Vary")
	switch {
	case len(existing) == 0:
		ctx.Response.Header.Set("Vary", "Accept-Encoding")
	case !bytes.Contains(existing, []byte("Accept-Encoding")):
		ctx.Response.Header.Set("Vary", string(existing)+", Accept-Encoding")
	}
}
