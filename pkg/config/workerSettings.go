package config

import "time"

// WorkerSettings tunes the delivery worker pool.
type WorkerSettings struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"required"`
	BatchSize     int           `mapstructure:"batch_size" validate:"gt=0"`
	Parallelism   int           `mapstructure:"parallelism" validate:"gt=0"`
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"required"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"gt=0"`
	RetryBase     time.Duration `mapstructure:"retry_base" validate:"required"`
	RetryCap      time.Duration `mapstructure:"retry_cap" validate:"required"`
	SendTimeout   time.Duration `mapstructure:"send_timeout" validate:"required"`
}

func (w *WorkerSettings) applyDefaults() {
	if w.PollInterval <= 0 {
		w.PollInterval = 5 * time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	if w.Parallelism <= 0 {
		w.Parallelism = 4
	}
	if w.LeaseDuration <= 0 {
		w.LeaseDuration = 5 * time.Minute
	}
	if w.MaxRetries <= 0 {
		w.MaxRetries = 5
	}
	if w.RetryBase <= 0 {
		w.RetryBase = 30 * time.Second
	}
	if w.RetryCap <= 0 {
		w.RetryCap = 30 * time.Minute
	}
	if w.SendTimeout <= 0 {
		w.SendTimeout = 30 * time.Second
	}
}
