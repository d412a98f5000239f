package genie

import (
	"context"
	"errors"

	"go.uber.org/zap"

	model "github.com/vnguyen/genie-bridge/internal/model/genie"
)

// Querier runs one question through the conversation API and resolves the
// first data-bearing attachment into a normalized result.
type Querier struct {
	api    API
	logger *zap.Logger
}

// NewQuerier wraps an API client.
func NewQuerier(api API, logger *zap.Logger) *Querier {
	return &Querier{api: api, logger: logger}
}

// Ask sends the question to Genie, starting a new conversation when
// conversationID is empty. It never returns an error: failures are folded
// into the result with ErrGeneric, keeping whatever conversation id was
// established so the session can still continue the conversation.
func (q *Querier) Ask(ctx context.Context, question, spaceID, conversationID string) model.Result {
	result, err := q.ask(ctx, question, spaceID, conversationID)
	if err != nil {
		q.logger.Error("ask genie failed",
			zap.Error(err),
			zap.String("space", spaceID),
			zap.String("conversation", result.ConversationID))
		kind := model.ErrGeneric
		if errors.Is(err, ErrMalformedResponse) {
			kind = model.ErrMalformed
		}
		return model.Result{Err: kind, ConversationID: result.ConversationID}
	}
	return result
}

func (q *Querier) ask(ctx context.Context, question, spaceID, conversationID string) (model.Result, error) {
	var (
		initial *Message
		err     error
	)
	if conversationID == "" {
		initial, err = q.api.StartConversationAndWait(ctx, spaceID, question)
		if initial != nil {
			conversationID = initial.ConversationID
		}
	} else {
		initial, err = q.api.CreateMessageAndWait(ctx, spaceID, conversationID, question)
	}
	if err != nil {
		return model.Result{ConversationID: conversationID}, err
	}

	msg, err := q.api.GetMessage(ctx, spaceID, conversationID, initial.ID)
	if err != nil {
		return model.Result{ConversationID: conversationID}, err
	}

	if len(msg.Attachments) == 0 {
		return model.Result{Message: msg.Content, ConversationID: conversationID}, nil
	}

	for _, att := range msg.Attachments {
		switch att.Kind() {
		case AttachmentText:
			return model.Result{Message: att.Text.Content, ConversationID: conversationID}, nil

		case AttachmentQuery:
			stmt, err := q.api.GetQueryResultByAttachment(ctx, spaceID, conversationID, initial.ID, att.AttachmentID)
			if err != nil {
				return model.Result{ConversationID: conversationID}, err
			}

			result := model.Result{
				QueryDescription: att.Query.Description,
				QueryText:        att.Query.Query,
				StatementID:      att.Query.StatementID,
				Metadata:         att.Query.QueryResultMetadata,
				ConversationID:   conversationID,
			}
			if stmt == nil || stmt.Result == nil {
				// Not a hard error: the renderer degrades to "no data".
				q.logger.Error("missing statement_response result",
					zap.String("conversation", conversationID),
					zap.String("attachment", att.AttachmentID))
				return result, nil
			}
			result.Table = toTable(stmt, q.logger)
			return result, nil
		}
		// Empty attachments are skipped; only the first data-bearing one counts.
	}

	return model.Result{Message: "No attachment found", ConversationID: conversationID}, nil
}

func toTable(stmt *StatementResponse, logger *zap.Logger) *model.Table {
	table := &model.Table{Rows: stmt.Result.DataArray}
	if stmt.Manifest != nil && stmt.Manifest.Schema != nil {
		table.Columns = stmt.Manifest.Schema.Columns
	} else {
		logger.Warn("statement_response has no manifest schema", zap.String("statement", stmt.StatementID))
	}
	return table
}
