package report

import (
	"context"

	"github.com/jomei/notionapi"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/pkg/notion"
)

// Notion report database properties.
const (
	notionTitle      = "Name"
	notionWeek       = "Week"
	notionTotal      = "Total"
	notionAttachment = "Attachment"
)

// NotionSink keeps one page per report week in a Notion database.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink creates a NotionSink writing to database dbID.
func NewNotionSink(client notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: client, dbID: dbID}
}

// Name implements Sink.
func (n *NotionSink) Name() string { return "notion" }

// SendMessage creates or updates the week's page with the report body.
func (n *NotionSink) SendMessage(ctx context.Context, msg Message) error {
	props := notionapi.Properties{
		notionTitle: notion.Title(msg.Title),
		notionWeek:  notion.Text(msg.Key),
		notionTotal: notion.Number(float64(msg.Total)),
	}
	_, created, err := notion.UpsertPage(ctx, n.client, n.dbID, notionWeek, msg.Key, props, notion.Paragraphs(msg.Text))
	if err != nil {
		return err
	}
	zap.L().Debug("report: notion page written", zap.String("key", msg.Key), zap.Bool("created", created))
	return nil
}

// UploadFile links the uploaded attachment from the week's page. Files that
// were not uploaded anywhere are skipped.
func (n *NotionSink) UploadFile(ctx context.Context, f File) error {
	if f.URL == "" {
		zap.L().Debug("report: notion attachment skipped, file has no url", zap.String("file", f.Name))
		return nil
	}
	props := notionapi.Properties{
		notionWeek:       notion.Text(f.Key),
		notionAttachment: notion.URL(f.URL),
	}
	_, _, err := notion.UpsertPage(ctx, n.client, n.dbID, notionWeek, f.Key, props, nil)
	return err
}
