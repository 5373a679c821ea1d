// Package sql provides a JobRepository on a relational database through GORM. When a
// GORM transaction is bound to the context, every write joins it, so a chunk's items and
// its checkpoint commit or roll back together.
package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const module = "SQLJobRepository"

// JobRepository implements repository.JobRepository.
type JobRepository struct {
	db *gorm.DB
}

var _ repository.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a JobRepository on db. The schema must exist, see Migrate.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) conn(ctx context.Context) *gorm.DB {
	return gormadapter.DBFromContext(ctx, r.db)
}

func dbError(op string, err error) error {
	return exception.NewBatchError(module, op, err, false, true)
}

// --- JobInstance ---

// SaveJobInstance implements repository.JobInstance.
func (r *JobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	entity, err := fromJobInstance(instance)
	if err != nil {
		return err
	}
	if err := r.conn(ctx).Create(entity).Error; err != nil {
		return dbError(fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

// FindJobInstanceByID implements repository.JobInstance.
func (r *JobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	var entities []JobInstanceEntity
	if err := r.conn(ctx).Where("id = ?", id).Limit(1).Find(&entities).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to find JobInstance (ID: %s)", id), err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrJobInstanceNotFound
	}
	return toJobInstance(&entities[0])
}

// FindJobInstanceByJobNameAndParameters implements repository.JobInstance.
func (r *JobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	var entities []JobInstanceEntity
	if err := r.conn(ctx).Where("job_name = ? AND parameters_hash = ?", jobName, hash).Limit(1).Find(&entities).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to find JobInstance of job '%s'", jobName), err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrJobInstanceNotFound
	}
	return toJobInstance(&entities[0])
}

// GetJobInstanceCount implements repository.JobInstance.
func (r *JobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	var count int64
	if err := r.conn(ctx).Model(&JobInstanceEntity{}).Where("job_name = ?", jobName).Count(&count).Error; err != nil {
		return 0, dbError(fmt.Sprintf("failed to count JobInstances of job '%s'", jobName), err)
	}
	return int(count), nil
}

// --- JobExecution ---

// SaveJobExecution implements repository.JobExecution.
func (r *JobRepository) SaveJobExecution(ctx context.Context, je *model.JobExecution) error {
	entity, err := fromJobExecution(je)
	if err != nil {
		return err
	}
	if err := r.conn(ctx).Create(entity).Error; err != nil {
		return dbError(fmt.Sprintf("failed to save JobExecution (ID: %s)", je.ID), err)
	}
	je.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateJobExecution implements repository.JobExecution.
func (r *JobRepository) UpdateJobExecution(ctx context.Context, je *model.JobExecution) error {
	je.LastUpdated = time.Now()
	entity, err := fromJobExecution(je)
	if err != nil {
		return err
	}
	res := r.conn(ctx).Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", je.ID, je.Version).
		Updates(jobColumns(entity, je.Version+1))
	if res.Error != nil {
		return dbError(fmt.Sprintf("failed to update JobExecution (ID: %s)", je.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("JobExecution (ID: %s) with version %d not found for update", je.ID, je.Version), nil)
	}
	je.Version++
	je.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateJobExecutionContext implements repository.ExecutionContext.
func (r *JobRepository) UpdateJobExecutionContext(ctx context.Context, je *model.JobExecution) error {
	ec, err := encodeContext(je.ExecutionContext)
	if err != nil {
		return err
	}
	res := r.conn(ctx).Model(&JobExecutionEntity{}).Where("id = ?", je.ID).Update("execution_context", ec)
	if res.Error != nil {
		return dbError(fmt.Sprintf("failed to update context of JobExecution (ID: %s)", je.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrJobExecutionNotFound
	}
	je.ExecutionContext.ClearDirtyFlag()
	return nil
}

// FindJobExecutionByID implements repository.JobExecution. The step executions of the
// execution are attached in start order.
func (r *JobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	var entities []JobExecutionEntity
	if err := r.conn(ctx).Where("id = ?", id).Limit(1).Find(&entities).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to find JobExecution (ID: %s)", id), err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.loadJobExecution(ctx, &entities[0])
}

// FindLatestJobExecution implements repository.JobExecution.
func (r *JobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	var entities []JobExecutionEntity
	err := r.conn(ctx).Where("job_instance_id = ?", jobInstanceID).
		Order("create_time DESC").Order("id DESC").Limit(1).Find(&entities).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to find latest JobExecution of JobInstance %s", jobInstanceID), err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.loadJobExecution(ctx, &entities[0])
}

// FindJobExecutionsByJobInstance implements repository.JobExecution. Step executions are
// not attached.
func (r *JobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	var entities []JobExecutionEntity
	err := r.conn(ctx).Where("job_instance_id = ?", jobInstanceID).
		Order("create_time DESC").Order("id DESC").Find(&entities).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to find JobExecutions of JobInstance %s", jobInstanceID), err)
	}
	out := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je, err := toJobExecution(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, je)
	}
	return out, nil
}

func (r *JobRepository) loadJobExecution(ctx context.Context, entity *JobExecutionEntity) (*model.JobExecution, error) {
	je, err := toJobExecution(entity)
	if err != nil {
		return nil, err
	}
	var steps []StepExecutionEntity
	err = r.conn(ctx).Where("job_execution_id = ?", je.ID).Order("create_time ASC").Order("id ASC").Find(&steps).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to load StepExecutions of JobExecution %s", je.ID), err)
	}
	for i := range steps {
		se, err := toStepExecution(&steps[i], je)
		if err != nil {
			return nil, err
		}
		je.AddStepExecution(se)
	}
	return je, nil
}

// --- StepExecution ---

// SaveStepExecution implements repository.StepExecution.
func (r *JobRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	entity, err := fromStepExecution(se)
	if err != nil {
		return err
	}
	entity.CreateTime = time.Now()
	if err := r.conn(ctx).Create(entity).Error; err != nil {
		return dbError(fmt.Sprintf("failed to save StepExecution (ID: %s)", se.ID), err)
	}
	se.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateStepExecution implements repository.StepExecution.
func (r *JobRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	se.LastUpdated = time.Now()
	entity, err := fromStepExecution(se)
	if err != nil {
		return err
	}
	res := r.conn(ctx).Model(&StepExecutionEntity{}).
		Where("id = ? AND version = ?", se.ID, se.Version).
		Updates(stepColumns(entity, se.Version+1))
	if res.Error != nil {
		return dbError(fmt.Sprintf("failed to update StepExecution (ID: %s)", se.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", se.ID, se.Version), nil)
	}
	se.Version++
	return nil
}

// UpdateStepExecutionContext implements repository.ExecutionContext.
func (r *JobRepository) UpdateStepExecutionContext(ctx context.Context, se *model.StepExecution) error {
	ec, err := encodeContext(se.ExecutionContext)
	if err != nil {
		return err
	}
	res := r.conn(ctx).Model(&StepExecutionEntity{}).Where("id = ?", se.ID).Update("execution_context", ec)
	if res.Error != nil {
		return dbError(fmt.Sprintf("failed to update context of StepExecution (ID: %s)", se.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrStepExecutionNotFound
	}
	se.ExecutionContext.ClearDirtyFlag()
	return nil
}

// FindStepExecutionByID implements repository.StepExecution.
func (r *JobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	var entities []StepExecutionEntity
	if err := r.conn(ctx).Where("id = ?", id).Limit(1).Find(&entities).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to find StepExecution (ID: %s)", id), err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrStepExecutionNotFound
	}
	owner, err := r.owner(ctx, entities[0].JobExecutionID)
	if err != nil {
		return nil, err
	}
	return toStepExecution(&entities[0], owner)
}

// FindLatestStepExecution implements repository.StepExecution.
func (r *JobRepository) FindLatestStepExecution(ctx context.Context, jobInstanceID, stepName string) (*model.StepExecution, error) {
	var entities []StepExecutionEntity
	err := r.conn(ctx).Table(stepExecutionTable+" AS se").
		Select("se.*").
		Joins("JOIN "+jobExecutionTable+" je ON je.id = se.job_execution_id").
		Where("je.job_instance_id = ? AND se.step_name = ?", jobInstanceID, stepName).
		Order("se.create_time DESC").Order("se.id DESC").
		Limit(1).
		Find(&entities).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to find latest StepExecution '%s'", stepName), err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrStepExecutionNotFound
	}
	owner, err := r.owner(ctx, entities[0].JobExecutionID)
	if err != nil {
		return nil, err
	}
	return toStepExecution(&entities[0], owner)
}

// CountStepExecutions implements repository.StepExecution.
func (r *JobRepository) CountStepExecutions(ctx context.Context, jobInstanceID, stepName string) (int, error) {
	var count int64
	err := r.conn(ctx).Table(stepExecutionTable+" AS se").
		Joins("JOIN "+jobExecutionTable+" je ON je.id = se.job_execution_id").
		Where("je.job_instance_id = ? AND se.step_name = ?", jobInstanceID, stepName).
		Count(&count).Error
	if err != nil {
		return 0, dbError(fmt.Sprintf("failed to count StepExecutions '%s'", stepName), err)
	}
	return int(count), nil
}

// FindStepExecutionsByJobExecutionID implements repository.StepExecution.
func (r *JobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	owner, err := r.owner(ctx, jobExecutionID)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	err = r.conn(ctx).Where("job_execution_id = ?", jobExecutionID).Order("create_time ASC").Order("id ASC").Find(&entities).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to find StepExecutions of JobExecution %s", jobExecutionID), err)
	}
	out := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		se, err := toStepExecution(&entities[i], owner)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, nil
}

// owner loads the identifying fields of a JobExecution.
func (r *JobRepository) owner(ctx context.Context, jobExecutionID string) (*model.JobExecution, error) {
	var entities []JobExecutionEntity
	err := r.conn(ctx).Select("id", "job_instance_id", "job_name", "parameters").
		Where("id = ?", jobExecutionID).Limit(1).Find(&entities).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to find JobExecution (ID: %s)", jobExecutionID), err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("owner of step execution: %w", repository.ErrJobExecutionNotFound)
	}
	params, err := decodeParameters(entities[0].Parameters)
	if err != nil {
		return nil, err
	}
	return &model.JobExecution{
		ID:            entities[0].ID,
		JobInstanceID: entities[0].JobInstanceID,
		JobName:       entities[0].JobName,
		Parameters:    params,
	}, nil
}

// Close implements repository.JobRepository. The connection is owned by the database
// adapter and closed there.
func (r *JobRepository) Close() error {
	return nil
}

