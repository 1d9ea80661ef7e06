package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type capturedUpdate struct {
	sql  string
	vars []interface{}
}

// dryRunDB 只生成 SQL 不连接数据库，记录最后一条 UPDATE
func dryRunDB(t *testing.T) (*gorm.DB, *capturedUpdate) {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/shorts?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)

	captured := &capturedUpdate{}
	err = db.Callback().Update().After("gorm:update").Register("test:capture", func(tx *gorm.DB) {
		captured.sql = tx.Statement.SQL.String()
		captured.vars = tx.Statement.Vars
	})
	require.NoError(t, err)
	return db, captured
}

func TestTask_FinishOnlyUpdatesUnfinishedTasks(t *testing.T) {
	db, captured := dryRunDB(t)
	task := &Task{ID: "task-1"}

	_, err := task.Finish(db, TaskStatusSuccess, &TaskResult{ResourceType: "video", ResourceId: "comp-1"}, "")
	require.NoError(t, err)

	assert.Contains(t, captured.sql, "UPDATE `task` SET")
	assert.Contains(t, captured.sql, "status IN (?,?)")
	assert.Contains(t, captured.vars, TaskStatusPending)
	assert.Contains(t, captured.vars, TaskStatusProcessing)
	assert.Contains(t, captured.vars, TaskStatusSuccess)
	assert.Contains(t, captured.vars, "task-1")
	assert.NotContains(t, captured.vars, TaskStatusCancelled, "a cancelled task must never be overwritten")
}

func TestTask_StartOnlyFromPending(t *testing.T) {
	db, captured := dryRunDB(t)
	task := &Task{ID: "task-2"}

	_, err := task.Start(db)
	require.NoError(t, err)

	assert.Contains(t, captured.sql, "status IN (?)")
	assert.Contains(t, captured.vars, TaskStatusPending)
	assert.Contains(t, captured.vars, TaskStatusProcessing)
}

func TestStatusUpdates(t *testing.T) {
	u, err := statusUpdates(TaskStatusSuccess, &TaskResult{ResourceType: "video"}, "publish failed")
	require.NoError(t, err)
	assert.Equal(t, 100, u["progress"])
	assert.Equal(t, "publish failed", u["error"])
	assert.Contains(t, u, "finished_at")
	assert.Contains(t, u, "result")

	u, err = statusUpdates(TaskStatusProcessing, nil, "")
	require.NoError(t, err)
	assert.Contains(t, u, "started_at")
	assert.NotContains(t, u, "finished_at")
	assert.NotContains(t, u, "error")
}
