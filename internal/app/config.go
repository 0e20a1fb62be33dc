package app

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/chorusreel-backend/internal/jobs/poller"
	"github.com/yungbote/chorusreel-backend/internal/platform/envutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/gcp"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/realtime/bus"
)

const (
	TranscriberOpenAI = "openai"
	TranscriberGCP    = "gcp"
)

type Config struct {
	Port        string
	Environment string
	DataRoot    string
	RunDBDSN    string
	CORSOrigins []string
	// MaxUploadBytes caps the multipart body of a run request.
	MaxUploadBytes int64

	DefaultModel     string
	PromptModelsFile string
	HistoryLimit     int

	PollInterval   time.Duration
	PollTimeout    time.Duration
	ParallelSubmit bool

	Transcriber      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIMaxRetries int
	SpeechLanguage   string

	AnalysisBaseURL string
	AnalysisTimeout time.Duration

	GCPProject         string
	GCPLocation        string
	VeoModel           string
	VeoOutputURI       string
	VeoAspectRatio     string
	VeoDurationSeconds int

	FFmpegPath   string
	FFprobePath  string
	MediaTimeout time.Duration

	RedisAddr    string
	RedisChannel string
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig(log *logger.Logger) Config {
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded .env file")
	}

	dataRoot := envutil.String("DATA_ROOT", "data", log)
	return Config{
		Port:           envutil.String("PORT", "8080", log),
		Environment:    envutil.String("APP_ENV", "development", log),
		DataRoot:       dataRoot,
		RunDBDSN:       envutil.String("RUN_DB_DSN", strings.TrimRight(dataRoot, "/")+"/chorusreel.db", log),
		CORSOrigins:    splitList(envutil.String("CORS_ALLOWED_ORIGINS", "", log)),
		MaxUploadBytes: int64(envutil.Int("MAX_UPLOAD_MB", 100, log)) << 20,

		DefaultModel:     envutil.String("DEFAULT_PROMPT_MODEL", "gpt4o", log),
		PromptModelsFile: envutil.String("PROMPT_MODELS_FILE", "", log),
		HistoryLimit:     envutil.Int("RUN_HISTORY_LIMIT", 20, log),

		PollInterval:   envutil.Duration("VIDEO_POLL_INTERVAL", poller.DefaultInterval, log),
		PollTimeout:    envutil.Duration("VIDEO_POLL_TIMEOUT", poller.DefaultTimeout, log),
		ParallelSubmit: envutil.Bool("PIPELINE_PARALLEL_SUBMIT", false, log),

		Transcriber:      strings.ToLower(envutil.String("TRANSCRIBER", TranscriberOpenAI, log)),
		OpenAIAPIKey:     envutil.String("OPENAI_API_KEY", "", log),
		OpenAIBaseURL:    envutil.String("OPENAI_BASE_URL", "", log),
		OpenAIMaxRetries: envutil.Int("OPENAI_MAX_RETRIES", 2, log),
		SpeechLanguage:   envutil.String("SPEECH_LANGUAGE_CODE", "en-US", log),

		AnalysisBaseURL: envutil.String("ANALYSIS_BASE_URL", "http://localhost:7860", log),
		AnalysisTimeout: envutil.Duration("ANALYSIS_TIMEOUT", 5*time.Minute, log),

		GCPProject:         envutil.String("GOOGLE_CLOUD_PROJECT", "", log),
		GCPLocation:        envutil.String("GOOGLE_CLOUD_LOCATION", gcp.DefaultVeoLocation, log),
		VeoModel:           envutil.String("VEO_MODEL", gcp.DefaultVeoModel, log),
		VeoOutputURI:       envutil.String("GOOGLE_STORAGE_BUCKET", "", log),
		VeoAspectRatio:     envutil.String("VEO_ASPECT_RATIO", "16:9", log),
		VeoDurationSeconds: envutil.Int("VEO_DURATION_SECONDS", 8, log),

		FFmpegPath:   envutil.String("FFMPEG_PATH", "ffmpeg", log),
		FFprobePath:  envutil.String("FFPROBE_PATH", "ffprobe", log),
		MediaTimeout: envutil.Duration("MEDIA_TIMEOUT", 10*time.Minute, log),

		RedisAddr:    envutil.String("REDIS_ADDR", "", log),
		RedisChannel: envutil.String("REDIS_CHANNEL", bus.DefaultChannel, log),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
