package composer

import (
	"context"
	"errors"

	"ShortsComposer-server/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Publisher 把本地成片上传到对象存储，返回可访问的 URL
type Publisher interface {
	Publish(ctx context.Context, localPath, objectName string) (string, error)
}

// Publish 上传成片并写入 RemoteURL。RemoteURL 只能写一次。
func (c *Composer) Publish(ctx context.Context, contentID string, video *models.FinalVideo, pub Publisher) (err error) {
	ctx, span := c.tracer.Start(ctx, StagePublish, trace.WithAttributes(attribute.String("content_id", contentID)))
	defer func() { endSpan(span, err) }()

	if video == nil || pub == nil {
		return &Error{Kind: KindPublishFailure, ContentID: contentID, Stage: StagePublish, Msg: "nothing to publish"}
	}
	if video.RemoteURL != "" {
		return &Error{Kind: KindPublishFailure, ContentID: contentID, Stage: StagePublish,
			Msg: "video already published", Cause: models.ErrRemoteURLAlreadySet}
	}

	url, err := pub.Publish(ctx, video.LocalPath, contentID+".mp4")
	if err != nil {
		kind := KindPublishFailure
		if errors.Is(err, context.Canceled) {
			kind = KindCanceled
		}
		return &Error{Kind: kind, ContentID: contentID, Stage: StagePublish, Msg: "upload final video", Cause: err}
	}
	if err := video.SetRemoteURL(url); err != nil {
		return &Error{Kind: KindPublishFailure, ContentID: contentID, Stage: StagePublish, Msg: "record remote url", Cause: err}
	}
	c.log.WithContext(ctx).Infow("msg", "final video published", "content_id", contentID, "stage", StagePublish, "url", url)
	return nil
}
