// Copyright © 2018 One Concern

package core

import (
	"github.com/oneconcern/castor/pkg/compress"
	"github.com/oneconcern/castor/pkg/hash"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/metrics"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Option is a functor to build or install artifacts with some options
type Option func(*Settings)

// Settings for builds and installs
type Settings struct {
	l      *zap.Logger
	layout layout.Layout
	hasher hash.Hasher
	codec  compress.Codec
	fs     afero.Fs
	m      *metrics.M
}

func defaultSettings() Settings {
	return Settings{
		l:      zap.NewNop(),
		layout: layout.Default(),
		hasher: hash.Default(),
		codec:  compress.Zstd,
		fs:     afero.NewOsFs(),
	}
}

func newSettings(opts []Option) Settings {
	s := defaultSettings()
	for _, apply := range opts {
		apply(&s)
	}
	return s
}

// Logger sets the logger
func Logger(l *zap.Logger) Option {
	return func(s *Settings) {
		if l != nil {
			s.l = l
		}
	}
}

// Layout sets the names of repository directories. It only applies to builds:
// installs use the layout of the Store.
func Layout(l layout.Layout) Option {
	return func(s *Settings) {
		s.layout = l
	}
}

// Hasher sets the hash scheme used to name chunks and manifests
func Hasher(h hash.Hasher) Option {
	return func(s *Settings) {
		if h != nil {
			s.hasher = h
		}
	}
}

// Codec sets the compression codec for chunks written by builds.
// Installs detect the codec of each chunk.
func Codec(c compress.Codec) Option {
	return func(s *Settings) {
		s.codec = c
	}
}

// Fs sets the filesystem. It defaults to the OS filesystem.
//
// Installs require a filesystem supporting symbolic links.
func Fs(fs afero.Fs) Option {
	return func(s *Settings) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// Metrics sets the collectors updated by builds and installs
func Metrics(m *metrics.M) Option {
	return func(s *Settings) {
		s.m = m
	}
}
