// Package memory provides an in-process persistence implementation.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence"
)

// Persistence keeps everything in maps. Values are copied on the way in and out
// so callers never share state with the store.
type Persistence struct {
	mu           sync.RWMutex
	integrations map[string]*models.Integration
	automations  map[string]*models.Automation
	executions   map[string]*models.ExecutionRecord
}

var _ persistence.Persistence = (*Persistence)(nil)

func NewPersistence() *Persistence {
	return &Persistence{
		integrations: make(map[string]*models.Integration),
		automations:  make(map[string]*models.Automation),
		executions:   make(map[string]*models.ExecutionRecord),
	}
}

func (p *Persistence) SaveIntegration(_ context.Context, integration *models.Integration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := *integration
	p.integrations[integration.ID] = &stored

	return nil
}

func (p *Persistence) GetIntegration(_ context.Context, id string) (*models.Integration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	integration, ok := p.integrations[id]
	if !ok {
		return nil, persistence.NewIntegrationError("GetIntegration", id, persistence.ErrIntegrationNotFound)
	}

	found := *integration

	return &found, nil
}

func (p *Persistence) IntegrationByExternalAccount(_ context.Context, externalAccountID string) (*models.Integration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, integration := range p.integrations {
		if integration.ExternalAccountID == externalAccountID {
			found := *integration

			return &found, nil
		}
	}

	return nil, persistence.NewIntegrationError("IntegrationByExternalAccount", externalAccountID, persistence.ErrIntegrationNotFound)
}

func (p *Persistence) Integrations(_ context.Context) ([]*models.Integration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	integrations := make([]*models.Integration, 0, len(p.integrations))

	for _, integration := range p.integrations {
		found := *integration
		integrations = append(integrations, &found)
	}

	slices.SortFunc(integrations, func(a, b *models.Integration) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return integrations, nil
}

func (p *Persistence) SaveAutomation(_ context.Context, automation *models.Automation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.automations[automation.ID] = cloneAutomation(automation)

	return nil
}

func (p *Persistence) GetAutomation(_ context.Context, id string) (*models.Automation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	automation, ok := p.automations[id]
	if !ok {
		return nil, persistence.NewAutomationError("GetAutomation", id, persistence.ErrAutomationNotFound)
	}

	return cloneAutomation(automation), nil
}

func (p *Persistence) AutomationsByIntegration(_ context.Context, integrationID string) ([]*models.Automation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var automations []*models.Automation

	for _, automation := range p.automations {
		if automation.IntegrationID == integrationID {
			automations = append(automations, cloneAutomation(automation))
		}
	}

	slices.SortFunc(automations, func(a, b *models.Automation) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return automations, nil
}

func (p *Persistence) DeleteAutomation(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.automations[id]; !ok {
		return persistence.NewAutomationError("DeleteAutomation", id, persistence.ErrAutomationNotFound)
	}

	delete(p.automations, id)

	return nil
}

func (p *Persistence) SaveExecution(_ context.Context, record *models.ExecutionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.executions[record.ID]; ok && existing.Status.IsTerminal() {
		return persistence.NewExecutionError("SaveExecution", record.ID, persistence.ErrExecutionTerminal)
	}

	p.executions[record.ID] = record.Clone()

	return nil
}

func (p *Persistence) GetExecution(_ context.Context, id string) (*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetExecution", id, persistence.ErrExecutionNotFound)
	}

	return record.Clone(), nil
}

func (p *Persistence) ExecutionsByIntegration(
	_ context.Context,
	integrationID string,
	since time.Time,
) ([]*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var records []*models.ExecutionRecord

	for _, record := range p.executions {
		if record.IntegrationID == integrationID && !record.CreatedAt.Before(since) {
			records = append(records, record.Clone())
		}
	}

	slices.SortFunc(records, func(a, b *models.ExecutionRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return records, nil
}

func (p *Persistence) PruneExecutions(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int64

	for id, record := range p.executions {
		if record.CreatedAt.Before(before) {
			delete(p.executions, id)
			removed++
		}
	}

	return removed, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func cloneAutomation(automation *models.Automation) *models.Automation {
	clone := *automation
	clone.Nodes = slices.Clone(automation.Nodes)
	clone.Edges = slices.Clone(automation.Edges)

	return &clone
}
