package model

import (
	"fmt"
	"path/filepath"
	"time"

	"lavamon/pkg/config"
)

// Class is a kind of scheduler entity sampled into its own store
type Class string

const (
	ClassJob   Class = "job"
	ClassQueue Class = "queue"
	ClassHost  Class = "host"
	ClassLoad  Class = "load"
	ClassUser  Class = "user"
)

// AllClasses lists every entity class in sampling order
var AllClasses = []Class{ClassJob, ClassQueue, ClassHost, ClassLoad, ClassUser}

// Columns leading every class sample
const (
	ColSampleTime = "sampleTime"
	ColDate       = "DATE"
	ColTime       = "TIME"
)

// Derived columns appended to queue and host samples
const (
	ColQueueHosts = "HOST"
	ColHostQueues = "QUEUE"
)

// ParseClass validates a class name
func ParseClass(name string) (Class, error) {
	for _, c := range AllClasses {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown entity class %q", name)
}

// ParseClasses validates a list of class names
func ParseClasses(names []string) ([]Class, error) {
	classes := make([]Class, 0, len(names))
	for _, name := range names {
		c, err := ParseClass(name)
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, nil
}

// Prefix returns the table name prefix of the class
func (c Class) Prefix() string {
	return string(c)
}

// StorePath returns the class store file under dbPath
func (c Class) StorePath(dbPath string) string {
	return filepath.Join(dbPath, string(c)+".db")
}

// Staleness returns the eviction threshold of the class
func (c Class) Staleness(cfg config.StalenessConfig) time.Duration {
	switch c {
	case ClassJob:
		return config.Seconds(cfg.Job)
	case ClassQueue:
		return config.Seconds(cfg.Queue)
	case ClassHost:
		return config.Seconds(cfg.Host)
	case ClassLoad:
		return config.Seconds(cfg.Load)
	case ClassUser:
		return config.Seconds(cfg.User)
	default:
		return 0
	}
}
