package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokentrust/internal/services"
)

type blockingMonitor struct {
	entered chan struct{}
	release chan struct{}
	report  *services.MonitorReport
	err     error
}

func (m *blockingMonitor) MonitorOpenTrades(ctx context.Context) (*services.MonitorReport, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	return m.report, m.err
}

func TestMonitorJobRecordsReport(t *testing.T) {
	job := NewMonitorJob(&blockingMonitor{report: &services.MonitorReport{Tokens: 2, Sold: 1}}, 0)
	report, ran, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, report.Sold)
	assert.Same(t, report, job.LastReport())
}

func TestMonitorJobKeepsLastReportOnError(t *testing.T) {
	m := &blockingMonitor{report: &services.MonitorReport{Tokens: 1}}
	job := NewMonitorJob(m, 0)
	_, _, err := job.RunOnce(context.Background())
	require.NoError(t, err)

	m.err = errors.New("ledger unavailable")
	_, ran, err := job.RunOnce(context.Background())
	assert.True(t, ran)
	assert.Error(t, err)
	assert.Equal(t, 1, job.LastReport().Tokens)
}

func TestMonitorJobSkipsOverlappingRuns(t *testing.T) {
	m := &blockingMonitor{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		report:  &services.MonitorReport{},
	}
	job := NewMonitorJob(m, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ran, _ := job.RunOnce(context.Background())
		assert.True(t, ran)
	}()
	<-m.entered

	_, ran, err := job.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.False(t, ran)

	close(m.release)
	<-done
}

func TestStartRejectsBadSpec(t *testing.T) {
	_, err := Start(context.Background(), "every now and then", NewMonitorJob(&blockingMonitor{}, 0))
	assert.Error(t, err)

	c, err := Start(context.Background(), "", NewMonitorJob(&blockingMonitor{report: &services.MonitorReport{}}, 0))
	require.NoError(t, err)
	<-c.Stop().Done()
}
