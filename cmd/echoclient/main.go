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

// Command echoclient is test scaffolding: it connects to an echoserver,
// sends a handful of requests of increasing size, and prints the
// round-trip results.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/hxfab/rrpc"
	"github.com/hxfab/rrpc/transport/udpfabric"
)

const (
	rpcID       = 1
	reqTypeEcho = uint8(2)
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:31850", "server session-management address")
	smAddr := flag.String("sm-addr", ":0", "local session-management UDP listen address")
	dataAddr := flag.String("data-addr", ":0", "local data-plane UDP listen address")
	flag.Parse()

	log := logrus.WithField("component", "echoclient")

	nexus, err := rrpc.NewNexus(*smAddr)
	if err != nil {
		log.WithError(err).Fatal("bind session-management socket")
	}
	tr, err := udpfabric.New(*dataAddr, rrpc.DefaultMTU, 1024, 0)
	if err != nil {
		log.WithError(err).Fatal("bind data-plane socket")
	}
	ep, err := rrpc.NewEndpoint(nexus, rpcID, tr, nil)
	if err != nil {
		log.WithError(err).Fatal("construct endpoint")
	}

	connected := false
	var connectErr error
	sessionNum, err := ep.CreateSession(*serverAddr, 2, func(_ uint16, state rrpc.SessionState, err error) {
		if err != nil {
			connectErr = err
		}
		if state == rrpc.StateConnected {
			connected = true
		}
	})
	if err != nil {
		log.WithError(err).Fatal("create session")
	}
	for !connected && connectErr == nil {
		if err := ep.RunEventLoopOnce(); err != nil {
			log.WithError(err).Fatal("event loop")
		}
	}
	if connectErr != nil {
		log.WithError(connectErr).Fatal("connect failed")
	}
	log.Info("connected")

	for _, size := range []int{16, 64, 4096} {
		req := ep.Alloc(size)
		req.Resize(size)
		for i := range req.Bytes() {
			req.Bytes()[i] = byte(i)
		}
		resp := ep.Alloc(size)
		resp.Resize(size)

		done := false
		var reqErr error
		err := ep.EnqueueRequest(sessionNum, reqTypeEcho, req, resp, func(_ *rrpc.MsgBuffer, _ any, err error) {
			reqErr = err
			done = true
		}, nil)
		if err != nil {
			log.WithError(err).WithField("size", size).Error("enqueue request")
			continue
		}
		for !done {
			if err := ep.RunEventLoopOnce(); err != nil {
				log.WithError(err).Fatal("event loop")
			}
		}
		if reqErr != nil {
			log.WithError(reqErr).WithField("size", size).Error("request failed")
			continue
		}
		log.WithField("size", size).Info("echo round trip complete")
		ep.Free(req)
		ep.Free(resp)
	}
}
