package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PratikDhanave/user-report-service/internal/tasks"
)

// Config contains runtime configuration required by the service.
type Config struct {
	DBURL             string
	APIKeys           map[string]int64 // apiKey -> projectID
	HTTPAddr          string
	LogLevel          string
	WorkerConcurrency int
	WorkerQueues      []string // empty means every registered queue
	Tasks             map[string]TaskOverride
}

// TaskOverride replaces parts of a registered task's dispatch settings.
type TaskOverride struct {
	Queue             string         `yaml:"queue"`
	DefaultRetryDelay *time.Duration `yaml:"default_retry_delay"`
	MaxRetries        *int           `yaml:"max_retries"`
}

// tasksFile is the layout of the TASKS_CONFIG file:
//
//	tasks:
//	  sentry.tasks.update_user_report:
//	    queue: update
//	    default_retry_delay: 5m
//	    max_retries: 5
type tasksFile struct {
	Tasks map[string]TaskOverride `yaml:"tasks"`
}

// Load reads required values from environment variables.
// API_KEYS format: "projectID:key,projectID:key"
func Load() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["project-key-123"] = 1
	}

	concurrency := 4
	if v := strings.TrimSpace(os.Getenv("WORKER_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("WORKER_CONCURRENCY must be a positive integer, got %q", v)
		}
		concurrency = n
	}

	cfg := Config{
		DBURL:             dbURL,
		APIKeys:           apiKeys,
		HTTPAddr:          envOr("HTTP_ADDR", ":8080"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		WorkerConcurrency: concurrency,
		WorkerQueues:      splitList(os.Getenv("WORKER_QUEUES")),
	}

	if path := strings.TrimSpace(os.Getenv("TASKS_CONFIG")); path != "" {
		cfg.Tasks, err = LoadTaskOverrides(path)
		if err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// LoadTaskOverrides reads per-task overrides from a YAML file.
func LoadTaskOverrides(path string) (map[string]TaskOverride, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read TASKS_CONFIG: %w", err)
	}
	var f tasksFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse TASKS_CONFIG %s: %w", path, err)
	}
	for name, o := range f.Tasks {
		if o.DefaultRetryDelay != nil && *o.DefaultRetryDelay < 0 {
			return nil, fmt.Errorf("task %s: default_retry_delay must be >= 0", name)
		}
		if o.MaxRetries != nil && *o.MaxRetries < 0 {
			return nil, fmt.Errorf("task %s: max_retries must be >= 0", name)
		}
	}
	return f.Tasks, nil
}

// ApplyTask returns t with any configured override applied.
func (c Config) ApplyTask(t tasks.Task) tasks.Task {
	o, ok := c.Tasks[t.Name]
	if !ok {
		return t
	}
	if o.Queue != "" {
		t.Queue = o.Queue
	}
	if o.DefaultRetryDelay != nil {
		t.DefaultRetryDelay = *o.DefaultRetryDelay
	}
	if o.MaxRetries != nil {
		t.MaxRetries = *o.MaxRetries
	}
	return t
}

func parseAPIKeys(raw string) (map[string]int64, error) {
	apiKeys := map[string]int64{}
	const format = `API_KEYS must be "projectID:key,projectID:key"`

	for _, p := range strings.Split(strings.TrimSpace(raw), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(format)
		}
		project := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if project == "" || key == "" {
			return nil, errors.New(format)
		}
		projectID, err := strconv.ParseInt(project, 10, 64)
		if err != nil || projectID <= 0 {
			return nil, fmt.Errorf("%s: invalid project id %q", format, project)
		}
		apiKeys[key] = projectID
	}
	return apiKeys, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
