package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/yungbote/chorusreel-backend/internal/jobs/poller"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const (
	DefaultVeoModel    = "veo-2.0-generate-001"
	DefaultVeoLocation = "us-central1"
	defaultAspectRatio = "16:9"
)

type VeoConfig struct {
	Project  string
	Location string
	Model    string
	// OutputURI is the gs:// prefix generated videos are written under.
	OutputURI string
	// Endpoint overrides https://<location>-aiplatform.googleapis.com.
	Endpoint string
}

// Veo drives Vertex AI video generation through its long running predict API.
type Veo struct {
	log  *logger.Logger
	http *http.Client
	cfg  VeoConfig
}

var _ poller.Generator = (*Veo)(nil)

func NewVeo(ctx context.Context, log *logger.Logger, cfg VeoConfig, opts ...option.ClientOption) (*Veo, error) {
	if len(opts) == 0 {
		opts = ClientOptionsFromEnv()
	}
	opts = append(opts, option.WithScopes(cloudPlatformScope))
	hc, _, err := htransport.NewClient(ctxutil.Default(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("vertex http client: %w", err)
	}
	return NewVeoWithHTTPClient(log, cfg, hc)
}

func NewVeoWithHTTPClient(log *logger.Logger, cfg VeoConfig, hc *http.Client) (*Veo, error) {
	if log == nil {
		log = logger.Nop()
	}
	cfg.Project = strings.TrimSpace(cfg.Project)
	if cfg.Project == "" {
		return nil, fmt.Errorf("veo: GOOGLE_CLOUD_PROJECT required")
	}
	if cfg.Location == "" {
		cfg.Location = DefaultVeoLocation
	}
	if cfg.Model == "" {
		cfg.Model = DefaultVeoModel
	}
	if cfg.OutputURI != "" {
		if _, _, err := parseGCSPrefix(cfg.OutputURI); err != nil {
			return nil, fmt.Errorf("veo: output uri: %w", err)
		}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("https://%s-aiplatform.googleapis.com", cfg.Location)
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Veo{log: log.With("service", "gcp.Veo", "model", cfg.Model), http: hc, cfg: cfg}, nil
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	StorageURI      string `json:"storageUri,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	SampleCount     int    `json:"sampleCount"`
}

type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response *struct {
		Videos []struct {
			GCSURI   string `json:"gcsUri"`
			MimeType string `json:"mimeType"`
		} `json:"videos"`
		RAIMediaFilteredCount   int      `json:"raiMediaFilteredCount"`
		RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (v *Veo) modelURL(method string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		v.cfg.Endpoint, v.cfg.Project, v.cfg.Location, v.cfg.Model, method)
}

func (v *Veo) Submit(ctx context.Context, prompt string, opts poller.SubmitOptions) (string, error) {
	ctx = ctxutil.Default(ctx)
	aspect := opts.AspectRatio
	if aspect == "" {
		aspect = defaultAspectRatio
	}
	out := opts.OutputURI
	if out == "" {
		out = v.cfg.OutputURI
	}
	body := map[string]any{
		"instances": []veoInstance{{Prompt: prompt}},
		"parameters": veoParameters{
			AspectRatio:     aspect,
			StorageURI:      out,
			DurationSeconds: opts.DurationSeconds,
			SampleCount:     1,
		},
	}
	var op veoOperation
	if err := v.post(ctx, v.modelURL("predictLongRunning"), body, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", errors.New("predictLongRunning returned no operation name")
	}
	v.log.Info("Veo job submitted", "operation", op.Name, "aspect_ratio", aspect)
	return op.Name, nil
}

func (v *Veo) Poll(ctx context.Context, handle string) (poller.PollResult, error) {
	ctx = ctxutil.Default(ctx)
	var op veoOperation
	if err := v.post(ctx, v.modelURL("fetchPredictOperation"), map[string]string{"operationName": handle}, &op); err != nil {
		return poller.PollResult{}, err
	}
	return op.result(), nil
}

func (op veoOperation) result() poller.PollResult {
	if !op.Done {
		return poller.PollResult{}
	}
	if op.Error != nil {
		return poller.PollResult{Done: true, Error: fmt.Sprintf("code %d: %s", op.Error.Code, op.Error.Message)}
	}
	if op.Response != nil {
		for _, vid := range op.Response.Videos {
			if uri := strings.TrimSpace(vid.GCSURI); uri != "" {
				return poller.PollResult{Done: true, URI: uri}
			}
		}
		if op.Response.RAIMediaFilteredCount > 0 {
			return poller.PollResult{Done: true, Error: "video filtered by responsible AI policy: " + strings.Join(op.Response.RAIMediaFilteredReasons, "; ")}
		}
	}
	return poller.PollResult{Done: true, Error: "operation finished without a generated video"}
}

// Cancel asks Vertex to cancel the operation. Not every operation type supports it; callers treat failure as non-fatal.
func (v *Veo) Cancel(ctx context.Context, handle string) error {
	ctx = ctxutil.Default(ctx)
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "/")
	if handle == "" {
		return nil
	}
	return v.post(ctx, fmt.Sprintf("%s/v1/%s:cancel", v.cfg.Endpoint, handle), struct{}{}, nil)
}

func (v *Veo) post(ctx context.Context, url string, in any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal vertex request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("vertex request: %w", err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 300 {
		return apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("vertex %s: status=%d body=%s", lastSegment(url), resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode vertex response: %w", err)
	}
	return nil
}

func lastSegment(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

// parseGCSPrefix accepts gs://bucket or gs://bucket/prefix/.
func parseGCSPrefix(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "gs://")
	if !ok {
		return "", "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("not a gs:// uri: %q", uri))
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("gs:// uri has no bucket: %q", uri))
	}
	return bucket, prefix, nil
}
