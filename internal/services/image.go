package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
	"gorm.io/datatypes"

	"github.com/slotter-org/alexus-backend/internal/apperr"
	"github.com/slotter-org/alexus-backend/internal/logger"
)

const (
	DefaultImageMaxBytes     = 10 << 20
	DefaultImageMaxDimension = 2048
	// MaxImagePixels bounds the decoded size, which the byte cap alone does
	// not: a few KB of PNG can describe a gigapixel canvas.
	MaxImagePixels = 40_000_000

	ImageStorageBucket = "bucket"
	ImageStorageInline = "inline"
	ImageStorageRemote = "remote"
)

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// PreparedImage is an image attachment ready to be sent to the model and,
// later, stored. Remote images are passed through untouched.
type PreparedImage struct {
	MIME      string
	Data      []byte
	Width     int
	Height    int
	Resized   bool
	DataURL   string
	RemoteURL string
}

// ProviderURL is the URL handed to the model provider.
func (p *PreparedImage) ProviderURL() string {
	if p.RemoteURL != "" {
		return p.RemoteURL
	}
	return p.DataURL
}

type ImageService interface {
	Prepare(ctx context.Context, ref string) (*PreparedImage, error)
	Store(ctx context.Context, conversationID uint, img *PreparedImage) (string, datatypes.JSON, error)
}

type imageService struct {
	log           *logger.Logger
	bucketService BucketService
	maxBytes      int
	maxDimension  int
}

// NewImageService takes a nil bucketService to keep images inline as data
// URLs.
func NewImageService(log *logger.Logger, bucketService BucketService, maxBytes, maxDimension int) ImageService {
	if maxBytes <= 0 {
		maxBytes = DefaultImageMaxBytes
	}
	if maxDimension <= 0 {
		maxDimension = DefaultImageMaxDimension
	}
	return &imageService{
		log:           log.With("service", "ImageService"),
		bucketService: bucketService,
		maxBytes:      maxBytes,
		maxDimension:  maxDimension,
	}
}

func (is *imageService) Prepare(ctx context.Context, ref string) (*PreparedImage, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return &PreparedImage{RemoteURL: ref}, nil
	}
	mime, data, err := parseDataURL(ref)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if _, ok := imageExtensions[mime]; !ok {
		return nil, apperr.Validation(fmt.Sprintf("unsupported image type %q", mime))
	}
	if len(data) > is.maxBytes {
		return nil, apperr.Validation(fmt.Sprintf("image exceeds %d bytes", is.maxBytes))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validation("image could not be decoded")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, apperr.Validation(fmt.Sprintf("image exceeds %d pixels", MaxImagePixels))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Validation("image could not be decoded")
	}
	bounds := img.Bounds()
	out := &PreparedImage{
		MIME:   mime,
		Data:   data,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	if out.Width > is.maxDimension || out.Height > is.maxDimension {
		resized := imaging.Fit(img, is.maxDimension, is.maxDimension, imaging.Lanczos)
		format, outMIME := imaging.PNG, "image/png"
		if mime == "image/jpeg" {
			format, outMIME = imaging.JPEG, "image/jpeg"
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
			return nil, fmt.Errorf("re-encode image: %w", err)
		}
		rb := resized.Bounds()
		is.log.Debug("Downscaled image", "from", fmt.Sprintf("%dx%d", out.Width, out.Height), "to", fmt.Sprintf("%dx%d", rb.Dx(), rb.Dy()))
		out.MIME = outMIME
		out.Data = buf.Bytes()
		out.Width, out.Height = rb.Dx(), rb.Dy()
		out.Resized = true
	}
	out.DataURL = "data:" + out.MIME + ";base64," + base64.StdEncoding.EncodeToString(out.Data)
	return out, nil
}

// Store returns the image reference to persist with the message plus its
// metadata document.
func (is *imageService) Store(ctx context.Context, conversationID uint, img *PreparedImage) (string, datatypes.JSON, error) {
	if img == nil {
		return "", nil, nil
	}
	meta := map[string]interface{}{}
	if img.RemoteURL != "" {
		meta["storage"] = ImageStorageRemote
		return img.RemoteURL, mustJSON(meta), nil
	}
	meta["mime"] = img.MIME
	meta["width"] = img.Width
	meta["height"] = img.Height
	meta["bytes"] = len(img.Data)
	meta["resized"] = img.Resized

	if is.bucketService == nil {
		meta["storage"] = ImageStorageInline
		return img.DataURL, mustJSON(meta), nil
	}

	key := fmt.Sprintf("conversations/%d/%s.%s", conversationID, uuid.NewString(), imageExtensions[img.MIME])
	if err := is.bucketService.UploadFile(ctx, key, img.MIME, bytes.NewReader(img.Data)); err != nil {
		return "", nil, apperr.Persistence("failed to store image", err)
	}
	meta["storage"] = ImageStorageBucket
	meta["key"] = key
	return is.bucketService.GetPublicURL(key), mustJSON(meta), nil
}

func parseDataURL(ref string) (string, []byte, error) {
	if !strings.HasPrefix(ref, "data:") {
		return "", nil, fmt.Errorf("image must be a data URL or an http(s) URL")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime, params, _ := strings.Cut(header, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, fmt.Errorf("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("data URL is not valid base64")
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "image/jpg" {
		mime = "image/jpeg"
	}
	return mime, data, nil
}

func mustJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
