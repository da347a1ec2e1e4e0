// Copyright 2026 The rrpc Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rrpc

import "time"

// Config carries per-Endpoint overrides of the package's default
// tunables. The zero Config is invalid; use NewConfig, which fills in
// every field with the k*-named defaults, then apply Option functions.
type Config struct {
	SessionCredits    int
	MTU               int
	WheelNumBuckets   int
	WheelBucketWidth  TSC
	RTO               time.Duration
	SMTimeout         time.Duration
	SMMaxRetries      int
	PacingEnabled     bool
	BackgroundWorkers int
	QueueCapacity     int
}

// Option mutates a Config in place.
type Option func(*Config)

// NewConfig returns the package defaults with opts applied in order.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		SessionCredits:    kSessionCredits,
		MTU:               kMTU,
		WheelNumBuckets:   kWheelNumBuckets,
		WheelBucketWidth:  kWheelBucketWidthTsc,
		RTO:               kRpcRTODefault,
		SMTimeout:         kSMTimeoutMs * time.Millisecond,
		SMMaxRetries:      kSMMaxRetries,
		PacingEnabled:     true,
		BackgroundWorkers: 1,
		QueueCapacity:     kBackgroundQueueCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithSessionCredits overrides the per-session credit window.
func WithSessionCredits(n int) Option { return func(c *Config) { c.SessionCredits = n } }

// WithMTU sets Config.MTU. NewEndpoint replaces that value with the
// Transport's MTU, so fragment sizing always follows the Transport.
func WithMTU(n int) Option { return func(c *Config) { c.MTU = n } }

// WithRTO overrides the retransmission timeout.
func WithRTO(d time.Duration) Option { return func(c *Config) { c.RTO = d } }

// WithPacingDisabled turns off pacing: kick_req/kick_rfr packets whose
// payload is at most kMaxInline bytes skip the timing wheel and go
// straight to the TX batch; larger packets still go through the wheel.
// Retransmissions go through kick_req/kick_rfr instead of the wheel.
func WithPacingDisabled() Option { return func(c *Config) { c.PacingEnabled = false } }

// WithBackgroundWorkers sets the size of the background handler pool.
func WithBackgroundWorkers(n int) Option { return func(c *Config) { c.BackgroundWorkers = n } }

// WithSMRetryBudget overrides the session-management retry timeout and
// maximum retry count.
func WithSMRetryBudget(timeout time.Duration, maxRetries int) Option {
	return func(c *Config) {
		c.SMTimeout = timeout
		c.SMMaxRetries = maxRetries
	}
}
