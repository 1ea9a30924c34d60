package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	fatimage "github.com/ninnikukawaii/fatimage"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
)

func main() {
	app := cli.App{
		Usage: "Inspect and repair FAT12/FAT16/FAT32 disk images",
		Commands: []*cli.Command{
			inspectCommand,
			fragmentCommand,
			defragmentCommand,
			injectErrorCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

var imageFlag = &cli.StringFlag{
	Name:     "image",
	Aliases:  []string{"i"},
	Required: true,
	Usage:    "path to the FAT image file",
}

var journalFlag = &cli.StringFlag{
	Name:  "journal",
	Usage: "path to the write-ahead journal (defaults to fat_journal.log in the working directory)",
}

// csvRow is the flat shape gocsv marshals an inspect --csv listing into.
type csvRow struct {
	Name         string `csv:"name"`
	Size         uint32 `csv:"size"`
	FirstCluster int64  `csv:"first_cluster"`
	IsDirectory  bool   `csv:"is_directory"`
}

var inspectCommand = &cli.Command{
	Name:  "inspect",
	Usage: "print a volume's directory tree, or extract one file",
	Flags: []cli.Flag{
		imageFlag,
		journalFlag,
		&cli.BoolFlag{Name: "show-hidden", Aliases: []string{"s"}, Usage: "include entries with the hidden attribute set"},
		&cli.StringFlag{Name: "get-file", Aliases: []string{"g"}, Usage: "extract one file's bytes to stdout"},
		&cli.BoolFlag{Name: "csv", Usage: "print the listing as CSV instead of a tree"},
	},
	Action: runInspect,
}

func runInspect(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if path := c.String("get-file"); path != "" {
		data, err := s.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	showHidden := c.Bool("show-hidden")
	if c.Bool("csv") {
		rows := collectRows(s.Tree(), "", showHidden)
		out, err := gocsv.MarshalString(&rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	printTree(s.Tree(), 0, showHidden)
	return nil
}

func collectRows(node *tree.Node, prefix string, showHidden bool) []csvRow {
	var rows []csvRow
	for _, child := range node.Children {
		if !showHidden && child.Attributes&0x02 != 0 {
			continue
		}
		rows = append(rows, csvRow{
			Name:         prefix + child.Name,
			Size:         child.Size,
			FirstCluster: int64(child.FirstCluster),
			IsDirectory:  child.IsDirectory,
		})
		if child.IsDirectory {
			rows = append(rows, collectRows(child, prefix+child.Name+"/", showHidden)...)
		}
	}
	return rows
}

func printTree(node *tree.Node, depth int, showHidden bool) {
	for _, child := range node.Children {
		if !showHidden && child.Attributes&0x02 != 0 {
			continue
		}
		for i := 0; i < depth; i++ {
			fmt.Print("  ")
		}
		fmt.Printf("%s (%d bytes)\n", child.Name, child.Size)
		if child.IsDirectory {
			printTree(child, depth+1, showHidden)
		}
	}
}

var fragmentCommand = &cli.Command{
	Name:  "fragment",
	Usage: "report a volume's current fragmentation ratio",
	Flags: []cli.Flag{imageFlag, journalFlag},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("fragmentation ratio: %.2f%%\n", s.ComputeFragmentationRatio())
		return nil
	},
}

var defragmentCommand = &cli.Command{
	Name:  "defragment",
	Usage: "reorder every file's clusters toward contiguity",
	Flags: []cli.Flag{
		imageFlag,
		journalFlag,
		&cli.BoolFlag{Name: "level", Usage: "print the ratio before and after instead of just after"},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()

		before := s.ComputeFragmentationRatio()
		if err := s.Defragment(); err != nil {
			return err
		}
		after := s.ComputeFragmentationRatio()

		if c.Bool("level") {
			fmt.Printf("fragmentation ratio: %.2f%% -> %.2f%%\n", before, after)
		} else {
			fmt.Printf("fragmentation ratio: %.2f%%\n", after)
		}
		return nil
	},
}

var injectErrorCommand = &cli.Command{
	Name:  "inject-error",
	Usage: "corrupt a volume on purpose, for exercising repair on next open",
	Flags: []cli.Flag{
		imageFlag,
		journalFlag,
		&cli.IntFlag{Name: "one-table", Usage: "cluster to give a single-FAT-copy value, disagreeing with the rest"},
		&cli.IntFlag{Name: "bad-cluster", Usage: "cluster to mark bad in every FAT copy"},
		&cli.IntFlag{Name: "self-loop", Usage: "cluster to make point at itself"},
		&cli.IntSliceFlag{Name: "intersection", Usage: "two clusters: CLUSTER,TARGET making CLUSTER point into TARGET's existing chain"},
	},
	Action: runInjectError,
}

func runInjectError(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if c.IsSet("one-table") {
		cluster := layout.ClusterID(c.Int("one-table"))
		if err := s.InjectSingleTableValue(cluster, 0, uint32(cluster)+1); err != nil {
			return err
		}
	}
	if c.IsSet("bad-cluster") {
		if err := s.InjectBadCluster(layout.ClusterID(c.Int("bad-cluster"))); err != nil {
			return err
		}
	}
	if c.IsSet("self-loop") {
		if err := s.InjectSelfLoop(layout.ClusterID(c.Int("self-loop"))); err != nil {
			return err
		}
	}
	if pair := c.IntSlice("intersection"); len(pair) == 2 {
		if err := s.InjectIntersection(layout.ClusterID(pair[0]), layout.ClusterID(pair[1])); err != nil {
			return err
		}
	}
	return nil
}

func openSession(c *cli.Context) (*fatimage.Session, error) {
	return fatimage.Open(c.String("image"), fatimage.OpenOptions{
		JournalPath: c.String("journal"),
	})
}
