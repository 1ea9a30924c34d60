package journal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/stretchr/testify/require"
)

func value(v int64) *int64 { return &v }

func TestOpenTransactionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "journal.log")

	j, unclosed, err := journal.Open("image.vhd", logPath)
	require.NoError(t, err)
	require.Empty(t, unclosed)

	require.NoError(t, j.OpenTransaction(journal.WriteCluster))
	require.NoError(t, j.Report(journal.Event{ClusterNumber: 5}))
	require.NoError(t, j.CloseTransaction())
	require.NoError(t, j.Close())

	contents, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "image.vhd")
	require.Contains(t, string(contents), "TRANSACTION 1")
	require.Contains(t, string(contents), `"cluster_number":5`)
	require.Contains(t, string(contents), "CLOSED")
}

func TestReplayReportsUnclosedTransactions(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "journal.log")

	prepared := "image.vhd\n" +
		"TRANSACTION 2\n" +
		`{"cluster_number": 25, "value": 0, "table": null}` + "\n" +
		"TRANSACTION 0\n" +
		`{"cluster_number": 25, "value": 0, "table": null}` + "\n" +
		"TRANSACTION 0\n" +
		`{"cluster_number": 25, "value": 0, "table": 0}` + "\n" +
		"CLOSED\n"
	require.NoError(t, os.WriteFile(logPath, []byte(prepared), 0o644))

	_, unclosed, err := journal.Open("image.vhd", logPath)
	require.NoError(t, err)
	require.Len(t, unclosed, 2)

	var clusters []int64
	for _, frame := range unclosed {
		for _, ev := range frame.Events {
			clusters = append(clusters, ev.ClusterNumber)
		}
	}
	require.Contains(t, clusters, int64(25))
}

func TestForeignJournalIgnored(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "journal.log")

	prepared := "other-image.vhd\nTRANSACTION 1\n{\"cluster_number\": 9, \"value\": null, \"table\": null}\n"
	require.NoError(t, os.WriteFile(logPath, []byte(prepared), 0o644))

	_, unclosed, err := journal.Open("image.vhd", logPath)
	require.NoError(t, err)
	require.Empty(t, unclosed)
}
