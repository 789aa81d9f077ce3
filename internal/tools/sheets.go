package tools

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheetsAppender writes rows straight to the Sheets API, for
// deployments that hold their own service account.
type GoogleSheetsAppender struct {
	svc *sheets.Service
	// Range is the A1 target; rows are inserted after the last filled row.
	Range string
}

func NewGoogleSheetsAppender(ctx context.Context, opts ...option.ClientOption) (*GoogleSheetsAppender, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleSheetsAppender{svc: svc, Range: "A1"}, nil
}

func (a *GoogleSheetsAppender) AppendRow(ctx context.Context, sheetID string, row []any) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := a.svc.Spreadsheets.Values.Append(sheetID, a.Range, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to sheet %s: %w", sheetID, err)
	}
	return nil
}
