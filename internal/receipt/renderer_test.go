package receipt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/routefare/routefare/internal/ledger"
)

type fakePDF struct {
	html string
	err  error
}

func (f *fakePDF) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

func TestRenderWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	pdf := &fakePDF{}
	r := NewRenderer(pdf, dir)

	due := ledger.Due{
		ID: 1, StudentID: 42, Month: 4, Year: 2025,
		BaseFee: 1500, LateFee: 150, Discount: 100,
		Status:        ledger.DueStatusPaid,
		ReceiptNumber: "RCP-20250412-ABC123",
	}
	payment := ledger.Payment{
		ID: 9, DueID: 1, Amount: 1550,
		TransactionID: "pay_xyz", Method: ledger.MethodOnline,
		PaidAt: time.Date(2025, 4, 12, 10, 30, 0, 0, time.UTC),
	}

	ref, err := r.Render(context.Background(), payment, due)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "RCP-20250412-ABC123.pdf"), ref)

	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	require.Contains(t, pdf.html, "RCP-20250412-ABC123")
	require.Contains(t, pdf.html, "pay_xyz")
	require.Contains(t, pdf.html, "1550.00")
	require.Contains(t, pdf.html, "04/2025")
}

func TestRenderPropagatesPDFError(t *testing.T) {
	r := NewRenderer(&fakePDF{err: os.ErrDeadlineExceeded}, t.TempDir())

	_, err := r.Render(context.Background(), ledger.Payment{ID: 1}, ledger.Due{ID: 1})
	require.Error(t, err)
}
