package backendsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
)

// Asset upload pipeline. Each stage returns a tagged outcome so every
// failure mode (malformed uri, missing file, oversized image, upload
// failure) is one case in a closed set rather than a nested exception tree.

type UploadOutcome struct {
	Success      bool
	CanonicalURI string
	Err          *APIError
}

func uploadFailed(err *APIError) UploadOutcome {
	return UploadOutcome{Err: err}
}

// Receipt photos larger than this edge get downscaled before upload; phone
// cameras produce images far beyond what an expense reviewer needs.
const maxImageDimension = 1600

// Canonical backend references live under this prefix. Any other rooted path
// is a device-local file still awaiting upload.
const uploadsPathPrefix = "/uploads/"

var extensionMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".pdf":  "application/pdf",
}

// uploadReceiptImage pushes one local image to the backend and returns the
// canonical reference the backend assigned. A missing file is a
// distinguishable FileNotFound outcome, never a generic error.
func (e *Engine) uploadReceiptImage(ctx context.Context, localURI string) UploadOutcome {
	uri := strings.TrimSpace(localURI)
	if uri == "" {
		return uploadFailed(&APIError{Kind: KindValidation, Message: "image uri is empty"})
	}

	uri = repairImageURI(uri)
	localPath, ok := localFilePath(uri)
	if !ok {
		return uploadFailed(&APIError{Kind: KindValidation, Message: fmt.Sprintf("unsupported image uri scheme: %s", uri)})
	}

	data, outcome := readLocalImage(localPath)
	if outcome != nil {
		return *outcome
	}

	fileName := filepath.Base(localPath)
	mimeType := mimeFromExtension(fileName)
	if strings.HasPrefix(mimeType, "image/") {
		data = e.downscaleImage(data)
	}

	body, err := e.client.postMultipart(ctx, apiPathReceipts+"/images", "image", fileName, mimeType, data)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			apiErr = &APIError{Kind: KindNetwork, Message: err.Error()}
		}
		return uploadFailed(apiErr)
	}

	canonical := canonicalUploadPath(e.client.baseURL, body)
	if canonical == "" {
		return uploadFailed(&APIError{Kind: KindValidation, Message: "upload response carried no file reference"})
	}
	return UploadOutcome{Success: true, CanonicalURI: canonical}
}

// repairImageURI undoes over-aggressive percent-encoding some device shells
// apply to file uris ("file%3A%2F%2F...") and normalizes the nonstandard
// local-file scheme.
func repairImageURI(uri string) string {
	if strings.Contains(uri, "%") {
		if decoded, err := url.PathUnescape(uri); err == nil && decoded != "" {
			uri = decoded
		}
	}
	if strings.HasPrefix(uri, "local-file://") {
		uri = "file://" + strings.TrimPrefix(uri, "local-file://")
	}
	return uri
}

// localFilePath extracts a filesystem path from a device uri. Anything with
// a non-file scheme is not ours to read.
func localFilePath(uri string) (string, bool) {
	if strings.HasPrefix(uri, "file://") {
		return strings.TrimPrefix(uri, "file://"), true
	}
	if strings.Contains(uri, "://") {
		return "", false
	}
	return uri, true
}

// readLocalImage probes for existence with Stat and falls back to a byte
// read when Stat itself fails; only a confirmed missing file becomes
// FileNotFound.
func readLocalImage(localPath string) ([]byte, *UploadOutcome) {
	if _, err := os.Stat(localPath); err != nil && os.IsNotExist(err) {
		out := uploadFailed(&APIError{Kind: KindFileNotFound, Message: fmt.Sprintf("image file missing on device: %s", localPath)})
		return nil, &out
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			out := uploadFailed(&APIError{Kind: KindFileNotFound, Message: fmt.Sprintf("image file missing on device: %s", localPath)})
			return nil, &out
		}
		out := uploadFailed(&APIError{Kind: KindNetwork, Message: fmt.Sprintf("reading image file: %v", err)})
		return nil, &out
	}
	return data, nil
}

// downscaleImage re-encodes oversized photos to the review size. Anything
// that fails to decode (pdf riding an image extension, corrupt file) is
// uploaded as-is; the backend validates for real.
func (e *Engine) downscaleImage(data []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDimension && bounds.Dy() <= maxImageDimension {
		return data
	}

	resized := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		config.LogError(e.log, "backendsync", "downscaleImage", "", nil, err)
		return data
	}
	return buf.Bytes()
}

// canonicalUploadPath normalizes the backend's returned reference to an
// absolute path form, stripping the host when a full url comes back.
func canonicalUploadPath(baseURL string, body []byte) string {
	var resp struct {
		Path string `json:"path"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	ref := resp.Path
	if ref == "" {
		ref = resp.URL
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	ref = strings.TrimPrefix(ref, strings.TrimRight(baseURL, "/"))
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return path.Clean(ref)
}

func mimeFromExtension(fileName string) string {
	if mime, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return mime
	}
	return "image/jpeg"
}

