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

// Command echoserver is test scaffolding: a minimal rrpc server that
// echoes every request back to its sender, over the UDP transport.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hxfab/rrpc"
	"github.com/hxfab/rrpc/transport/udpfabric"
)

const (
	rpcID       = 2
	reqTypeEcho = uint8(2)
)

func main() {
	smAddr := flag.String("sm-addr", ":31850", "session-management UDP listen address")
	dataAddr := flag.String("data-addr", ":31851", "data-plane UDP listen address")
	flag.Parse()

	log := logrus.WithField("component", "echoserver")

	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(meterProvider)
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	go reportMetricsPeriodically(log, reader)

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

	ep.RegisterReqHandler(reqTypeEcho, func(req, resp *rrpc.MsgBuffer) {
		resp.Resize(req.Size())
		copy(resp.Bytes(), req.Bytes())
	}, rrpc.Foreground)

	log.WithField("sm_addr", *smAddr).WithField("data_addr", *dataAddr).Info("echoserver listening")
	if err := ep.RunEventLoop(nil); err != nil {
		log.WithError(err).Fatal("event loop stopped")
	}
}

// reportMetricsPeriodically collects rrpc's OpenTelemetry instruments
// (registered against the meter provider constructed in main) off a
// ManualReader and logs a snapshot, standing in for the OTLP or
// Prometheus export a real deployment would wire up instead.
func reportMetricsPeriodically(log *logrus.Entry, reader *sdkmetric.ManualReader) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			log.WithError(err).Warn("collect otel metrics")
			continue
		}
		for _, sm := range rm.ScopeMetrics {
			log.WithField("scope", sm.Scope.Name).WithField("metrics", len(sm.Metrics)).Info("otel metrics snapshot")
		}
	}
}
