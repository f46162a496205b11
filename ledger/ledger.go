// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ledger keeps a SQLite record of the translated splits.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/beamflow"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Run is one translated split.
type Run struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"not null"`

	Split     string `gorm:"not null;index"`
	Output    string `gorm:"not null"`
	Models    string `gorm:"not null"`
	Sentences int    `gorm:"not null"`
	// Seconds is the wall-clock duration of the translation.
	Seconds float64 `gorm:"not null"`

	BeamSize    int     `gorm:"not null"`
	MaxLen      int     `gorm:"not null"`
	LPAlpha     float64 `gorm:"not null"`
	SuppressUnk bool    `gorm:"not null"`
	NBest       bool    `gorm:"not null"`
	WaitK       int     `gorm:"not null"`
	Policy      string  `gorm:"not null"`
}

// Ledger stores runs in a SQLite database.
type Ledger struct {
	db *gorm.DB
}

var _ beamflow.Recorder = &Ledger{}

// Open opens, or creates, the ledger database.
func Open(filename string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: newQueryLogger(log.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err = db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate ledger database: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores the summary of a translated split.
func (l *Ledger) Record(ctx context.Context, s beamflow.Summary) error {
	run := Run{
		Split:       s.Split,
		Output:      s.Output,
		Models:      strings.Join(s.Models, ","),
		Sentences:   s.Sentences,
		Seconds:     s.Duration.Seconds(),
		BeamSize:    s.Decoding.BeamSize,
		MaxLen:      s.Decoding.MaxLen,
		LPAlpha:     s.Decoding.LPAlpha,
		SuppressUnk: s.Decoding.SuppressUnk,
		NBest:       s.Decoding.NBest,
		WaitK:       s.Decoding.WaitK,
		Policy:      string(s.Decoding.Policy),
	}
	if err := l.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	log.Debug().Uint("id", run.ID).Str("split", s.Split).Msg("run recorded")
	return nil
}

// Runs returns the recorded runs of the split, most recent first. An empty
// split returns every run.
func (l *Ledger) Runs(ctx context.Context, split string) ([]Run, error) {
	q := l.db.WithContext(ctx).Order("id desc")
	if split != "" {
		q = q.Where("split = ?", split)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
