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

import (
	"github.com/sirupsen/logrus"
)

// newEndpointLogger returns a logger scoped to one Endpoint: an entry
// on logrus's standard logger tagged with rpc_id. Datapath anomalies
// (bad headers, unknown sessions, stale req_nums) are counted in Stats
// and not logged; session-scoped and endpoint-scoped failures reach the
// application as errors and are not logged either. The only message the
// Endpoint logs is a Warn for a request type with no registered handler.
func newEndpointLogger(rpcID uint8) *logrus.Entry {
	l := logrus.StandardLogger()
	return l.WithField("rpc_id", rpcID)
}
