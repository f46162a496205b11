// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nlpodyssey/beamflow"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Engine translates raw sentences.
type Engine interface {
	TranslateText(ctx context.Context, sentences []string) ([]beamflow.Translation, error)
}

// MaxSentences is the maximum number of sentences per request.
const MaxSentences = 256

// Server serves the Translator service and the gRPC health service.
type Server struct {
	engine     Engine
	health     *health.Server
	grpcServer *grpc.Server
	// mu serializes the requests: one search runs at a time.
	mu sync.Mutex
}

var _ TranslatorServer = &Server{}

// NewServer returns a server over the given engine.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine:     engine,
		health:     health.NewServer(),
		grpcServer: grpc.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.grpcServer.RegisterService(&TranslatorServiceDesc, s)
	return s
}

// Start listens on the address and serves until ctx is done.
func (s *Server) Start(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Info().Str("address", lis.Addr().String()).Msg("server listening")
	return s.Serve(ctx, lis)
}

// Serve serves on the listener until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.health.SetServingStatus(TranslatorServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	go s.shutDownServerWhenContextIsDone(ctx)
	return s.grpcServer.Serve(lis)
}

// shutDownServerWhenContextIsDone shuts down the server when the context is done.
func (s *Server) shutDownServerWhenContextIsDone(ctx context.Context) {
	<-ctx.Done()
	log.Info().Msg("context done, shutting down server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	log.Info().Msg("server shut down successfully")
}

// Translate implements the Translate method of the Translator service.
func (s *Server) Translate(ctx context.Context, req *TranslateRequest) (*TranslateResponse, error) {
	n := len(req.Sentences)
	if n == 0 {
		return nil, status.Error(codes.InvalidArgument, "no sentences given")
	}
	if n > MaxSentences {
		return nil, status.Errorf(codes.InvalidArgument, "too many sentences: %d > %d", n, MaxSentences)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debug().Int("sentences", n).Msg("translate request")
	start := time.Now()
	trans, err := s.engine.TranslateText(ctx, req.Sentences)
	if err != nil {
		switch ctx.Err() {
		case context.Canceled:
			return nil, status.Error(codes.Canceled, err.Error())
		case context.DeadlineExceeded:
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "translation failed: %v", err)
	}
	log.Trace().Dur("elapsed", time.Since(start)).Msg("translate done")

	resp := &TranslateResponse{Translations: make([]Translation, len(trans))}
	for i, tr := range trans {
		cands := make([]Candidate, len(tr.Candidates))
		for j, c := range tr.Candidates {
			cands[j] = Candidate{Text: c.Text, Score: c.Score, Forced: c.Forced}
		}
		resp.Translations[i] = Translation{Index: tr.Index, Candidates: cands}
	}
	return resp, nil
}
