// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype of the messages of the Translator service.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

// TranslateRequest holds the sentences to translate.
type TranslateRequest struct {
	Sentences []string `json:"sentences"`
}

// Candidate is a post-processed hypothesis.
type Candidate struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Forced bool    `json:"forced,omitempty"`
}

// Translation holds the ranked candidates of one sentence.
type Translation struct {
	Index      int         `json:"index"`
	Candidates []Candidate `json:"candidates"`
}

// TranslateResponse holds one translation per request sentence, in order.
type TranslateResponse struct {
	Translations []Translation `json:"translations"`
}

// TranslatorServer is the server API of the Translator service.
type TranslatorServer interface {
	Translate(context.Context, *TranslateRequest) (*TranslateResponse, error)
}

const translateMethod = "/beamflow.Translator/Translate"

// TranslatorServiceDesc describes the Translator service.
var TranslatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "beamflow.Translator",
	HandlerType: (*TranslatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Translate",
			Handler:    translateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "beamflow/service",
}

func translateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TranslateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranslatorServer).Translate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: translateMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TranslatorServer).Translate(ctx, req.(*TranslateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is a client of the Translator service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client over the given connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Translate calls the Translate method.
func (c *Client) Translate(ctx context.Context, in *TranslateRequest, opts ...grpc.CallOption) (*TranslateResponse, error) {
	out := new(TranslateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, translateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
