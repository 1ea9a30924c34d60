package fatimage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	fatimage "github.com/ninnikukawaii/fatimage"
	"github.com/ninnikukawaii/fatimage/testutil"
	"github.com/ninnikukawaii/fatimage/tree"
)

func findChild(node *tree.Node, name string) *tree.Node {
	for _, child := range node.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

func TestOpenMaterializesRootAndReadsFileContents(t *testing.T) {
	dir := t.TempDir()
	contents := []byte("hello from a fixture file\n")
	path := testutil.Build(t, dir, testutil.Options{
		Files: []testutil.FileSpec{
			{Name: "HELLO.TXT", Contents: contents},
		},
	})

	s, err := fatimage.Open(path, fatimage.OpenOptions{})
	require.NoError(t, err)
	defer s.Close()

	root := s.Tree()
	require.Len(t, root.Children, 1)
	require.Equal(t, "HELLO.TXT", root.Children[0].Name)

	got, err := s.ReadFile("HELLO.TXT")
	require.NoError(t, err)
	require.Equal(t, contents, got)
}

func TestCreateFileAppearsUnderRootAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := testutil.Build(t, dir, testutil.Options{ExtraFreeClusters: 8})

	s, err := fatimage.Open(path, fatimage.OpenOptions{})
	require.NoError(t, err)
	defer s.Close()

	contents := []byte("new file contents")
	node, err := s.CreateFile("", "NEW.TXT", contents)
	require.NoError(t, err)
	require.Equal(t, "NEW.TXT", node.Name)

	got, err := s.ReadFile("NEW.TXT")
	require.NoError(t, err)
	require.Equal(t, contents, got)
}

func TestCreateDirectoryThenFileInsideIt(t *testing.T) {
	dir := t.TempDir()
	path := testutil.Build(t, dir, testutil.Options{ExtraFreeClusters: 8})

	s, err := fatimage.Open(path, fatimage.OpenOptions{})
	require.NoError(t, err)
	defer s.Close()

	sub, err := s.CreateDirectory("", "SUB")
	require.NoError(t, err)
	require.True(t, sub.IsDirectory)

	_, err = s.CreateFile("SUB", "INNER.TXT", []byte("nested"))
	require.NoError(t, err)

	got, err := s.ReadFile("SUB/INNER.TXT")
	require.NoError(t, err)
	require.Equal(t, []byte("nested"), got)
}

func TestDefragmentKeepsRatioWithinOnePointAndPreservesData(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 512*5)
	for i := range big {
		big[i] = byte(i)
	}
	path := testutil.Build(t, dir, testutil.Options{
		ExtraFreeClusters: 6,
		Files: []testutil.FileSpec{
			{Name: "BIG.BIN", Contents: big},
		},
	})

	s, err := fatimage.Open(path, fatimage.OpenOptions{})
	require.NoError(t, err)
	defer s.Close()

	before := s.ComputeFragmentationRatio()
	require.NoError(t, s.Defragment())
	after := s.ComputeFragmentationRatio()
	require.LessOrEqual(t, after, before+1.0)

	got, err := s.ReadFile("BIG.BIN")
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestInjectBadClusterQuarantinesFileUnderFound(t *testing.T) {
	dir := t.TempDir()
	contents := make([]byte, 512*2)
	path := testutil.Build(t, dir, testutil.Options{
		ExtraFreeClusters: 4,
		Files: []testutil.FileSpec{
			{Name: "BAD.BIN", Contents: contents},
		},
	})

	s, err := fatimage.Open(path, fatimage.OpenOptions{})
	require.NoError(t, err)

	target := findChild(s.Tree(), "BAD.BIN")
	require.NotNil(t, target)
	require.NoError(t, s.InjectBadCluster(target.FirstCluster+1))
	require.NoError(t, s.Close())

	reopened, err := fatimage.Open(path, fatimage.OpenOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	found := findChild(reopened.Tree(), "FOUND")
	require.NotNil(t, found)
	require.NotNil(t, findChild(found, "BAD.BIN"))
}
