package service

import (
	"context"
)

const ReconcileJobName = "points-reconcile"

// ReconcileJob runs Reconcile on the scheduler.
type ReconcileJob struct {
	service  PointsService
	schedule string
}

func NewReconcileJob(service PointsService, schedule string) *ReconcileJob {
	return &ReconcileJob{service: service, schedule: schedule}
}

func (j *ReconcileJob) GetName() string {
	return ReconcileJobName
}

func (j *ReconcileJob) GetSchedule() string {
	return j.schedule
}

func (j *ReconcileJob) Execute(ctx context.Context) error {
	_, err := j.service.Reconcile(ctx)
	return err
}
