package httpengine

import (
	"encoding/json"
	"fmt"

	"github.com/vertextoedge/book-downloader/internal/domain"
)

const resumeTokenVersion = 1

// resumeToken is the opaque blob handed out on cancel.
// The partial payload itself stays in the engine temp dir.
type resumeToken struct {
	Version      int    `json:"v"`
	URL          string `json:"url"`
	Bytes        int64  `json:"bytes"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

func encodeResumeToken(rt *resumeToken) ([]byte, error) {
	rt.Version = resumeTokenVersion
	return json.Marshal(rt)
}

func decodeResumeToken(data []byte) (*resumeToken, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty resume token", domain.ErrInvalidInput)
	}

	var rt resumeToken
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("%w: malformed resume token: %v", domain.ErrInvalidInput, err)
	}
	if rt.Version != resumeTokenVersion {
		return nil, fmt.Errorf("%w: unsupported resume token version %d", domain.ErrInvalidInput, rt.Version)
	}
	if rt.URL == "" || rt.Bytes < 0 {
		return nil, fmt.Errorf("%w: incomplete resume token", domain.ErrInvalidInput)
	}

	return &rt, nil
}
