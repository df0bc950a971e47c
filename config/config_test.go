package config_test

import (
	"testing"
	"time"

	"github.com/hengestone/chirp/config"
)

func TestDefaultValidates(t *testing.T) {
	c := config.Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBacklogOverRange(t *testing.T) {
	c := config.Default()
	c.Backlog = 128

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for backlog over 127")
	}
}

func TestValidateRejectsReuseTimeBelowTimeout(t *testing.T) {
	c := config.Default()
	c.Timeout = 10 * time.Second
	c.ReuseTime = time.Second

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error when reuseTime < timeout")
	}
}

func TestSynchronousForcesSingleSlot(t *testing.T) {
	c := config.Default()
	c.Synchronous = true
	c.MaxSlots = 8

	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if c.MaxSlots != 1 {
		t.Fatalf("expected MaxSlots forced to 1, got %d", c.MaxSlots)
	}
}

func TestValidateRejectsOutOfRangeMaxSlots(t *testing.T) {
	c := config.Default()
	c.MaxSlots = 0

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for MaxSlots=0")
	}
}
