package system

import "context"

// Service is a component whose start/stop lifecycle is owned by Manager.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService is a placeholder lifecycle entry for components without
// background work.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string              { return n.ServiceName }
func (NoopService) Start(context.Context) error { return nil }
func (NoopService) Stop(context.Context) error  { return nil }
