/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/carverauto/dvrsync/pkg/logger"
)

var errServiceBoom = errors.New("service boom")

type stopRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *stopRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names = append(r.names, name)
}

func (r *stopRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.names...)
}

// fakeService blocks in Start until its context is cancelled, or fails
// after failAfter when failWith is set.
type fakeService struct {
	name      string
	failWith  error
	failAfter time.Duration
	stops     *stopRecorder
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.failWith != nil {
		select {
		case <-time.After(f.failAfter):
			return f.failWith
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	<-ctx.Done()

	return ctx.Err()
}

func (f *fakeService) Stop(context.Context) error {
	f.stops.record(f.name)
	return nil
}

func TestRunServerStopsOnContextCancel(t *testing.T) {
	rec := &stopRecorder{}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := RunServer(ctx, &ServerOptions{
		Services: []Service{
			&fakeService{name: "first", stops: rec},
			&fakeService{name: "second", stops: rec},
		},
		Logger: logger.NewTestLogger(),
	})
	require.NoError(t, err)

	// Reverse start order.
	assert.Equal(t, []string{"second", "first"}, rec.all())
}

func TestRunServerReturnsServiceFailure(t *testing.T) {
	rec := &stopRecorder{}

	err := RunServer(context.Background(), &ServerOptions{
		Services: []Service{
			&fakeService{name: "steady", stops: rec},
			&fakeService{name: "flaky", stops: rec, failWith: errServiceBoom, failAfter: 20 * time.Millisecond},
		},
		Logger: logger.NewTestLogger(),
	})
	require.ErrorIs(t, err, errServiceBoom)

	assert.Contains(t, rec.all(), "steady")
}

func TestRunServerRegistrarErrorAborts(t *testing.T) {
	errRegister := errors.New("register failed")

	err := RunServer(context.Background(), &ServerOptions{
		ListenAddr: "127.0.0.1:0",
		Services:   []Service{},
		RegisterGRPCServices: []GRPCServiceRegistrar{
			func(*grpc.Server) error { return errRegister },
		},
		Logger: logger.NewTestLogger(),
	})
	require.ErrorIs(t, err, errRegister)
}

func TestRunServerWithHealthEndpoint(t *testing.T) {
	rec := &stopRecorder{}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := RunServer(ctx, &ServerOptions{
		ListenAddr:        "127.0.0.1:0",
		ServiceName:       "dvrsync",
		EnableHealthCheck: true,
		Services: []Service{
			&fakeService{name: "engine", stops: rec},
		},
		Logger: logger.NewTestLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"engine"}, rec.all())
}

func TestCreateComponentLogger(t *testing.T) {
	log, err := CreateComponentLogger(context.Background(), "test", nil)
	require.NoError(t, err)
	assert.NotNil(t, log)
}
