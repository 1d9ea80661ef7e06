package models

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

// InitDB 打开 MySQL 连接并自动建表，错误交给调用方处理
func InitDB(dsn string) error {
	if dsn == "" {
		return errors.New("mysql dsn is empty, check config mysql.dsn or MYSQL_DSN")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("GORM 初始化失败: %w", err)
	}

	if err := GormDB.AutoMigrate(&Project{}, &Task{}, &Composition{}); err != nil {
		return fmt.Errorf("自动建表失败: %w", err)
	}
	return nil
}

// Project CRUD
func CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := DB.Exec(
		`INSERT INTO project (id, title, description, status, cover_image, duration, video_url, segment_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.Status, p.CoverImage, p.Duration, p.VideoUrl, p.SegmentCount, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func GetProjectByID(id string) (Project, error) {
	var p Project
	row := DB.QueryRow(`SELECT id, title, description, status, cover_image, duration, video_url, segment_count, created_at, updated_at FROM project WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.CoverImage, &p.Duration, &p.VideoUrl, &p.SegmentCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func DeleteProjectByID(id string) error {
	_, err := DB.Exec(`DELETE FROM project WHERE id = ?`, id)
	return err
}

// UpdateProjectVideo 合成结束后回写成片信息（videoURL 为空时不覆盖）
func UpdateProjectVideo(id string, status string, duration float64, videoURL string, segmentCount int) error {
	sets := []string{"status = ?", "duration = ?", "segment_count = ?"}
	args := []interface{}{status, duration, segmentCount}
	if videoURL != "" {
		sets = append(sets, "video_url = ?")
		args = append(args, videoURL)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id)

	query := fmt.Sprintf("UPDATE project SET %s WHERE id = ?", strings.Join(sets, ", "))
	_, err := DB.Exec(query, args...)
	return err
}

func UpdateProjectStatus(id string, status string) error {
	_, err := DB.Exec(`UPDATE project SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	return err
}

// GetTaskByID 使用原生 SQL 读取任务（WebSocket 推送轮询使用）
func GetTaskByID(id string) (Task, error) {
	var t Task
	row := DB.QueryRow(`SELECT id, project_id, content_id, type, status, progress, message, parameters, result, error, estimated_duration, started_at, finished_at, created_at, updated_at FROM task WHERE id = ?`, id)

	var startedAt, finishedAt sql.NullTime
	var contentNull, messageNull, errorNull sql.NullString

	if err := row.Scan(&t.ID, &t.ProjectId, &contentNull, &t.Type, &t.Status, &t.Progress, &messageNull, &t.Parameters, &t.Result, &errorNull, &t.EstimatedDuration, &startedAt, &finishedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.ContentId = contentNull.String
	t.Message = messageNull.String
	t.Error = errorNull.String
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return t, nil
}

// ListActiveTaskIDs 返回项目下尚未结束（pending / processing）的任务 id
func ListActiveTaskIDs(projectID string) ([]string, error) {
	rows, err := DB.Query(`SELECT id FROM task WHERE project_id = ? AND status IN (?, ?)`, projectID, TaskStatusPending, TaskStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasActiveContentTask 同一 content id 是否已有未结束的合成任务
func HasActiveContentTask(contentID string) (bool, error) {
	var n int
	err := DB.QueryRow(`SELECT COUNT(*) FROM task WHERE content_id = ? AND status IN (?, ?)`,
		contentID, TaskStatusPending, TaskStatusProcessing).Scan(&n)
	return n > 0, err
}

// MarkTaskCancelled 只取消尚未结束的任务，返回是否有行被更新
func MarkTaskCancelled(id string, msg string) (bool, error) {
	now := time.Now()
	res, err := DB.Exec(`UPDATE task SET status = ?, error = ?, finished_at = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		TaskStatusCancelled, msg, now, now, id, TaskStatusPending, TaskStatusProcessing)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
