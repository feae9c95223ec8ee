package app

import (
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"
)

type Config struct {
	DBPath     string
	ParquetDir string
	Head       int
	Verbose    bool
}

func NewConfig() *Config {
	return &Config{}
}

func NewConfigFromCLI(args []string) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet("iqinspect", flag.ContinueOnError)
	fs.StringVar(&c.DBPath, "db", "", "Path to the capture file")
	fs.StringVar(&c.ParquetDir, "parquet", "", "Export every antenna table to Parquet files in this directory")
	fs.IntVar(&c.Head, "head", 0, "Print the first n rows of every antenna table")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "Enable more verbose output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// the capture file may also be given as the only positional argument
	if c.DBPath == "" && fs.NArg() == 1 {
		c.DBPath = fs.Arg(0)
	}

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if fs.NArg() > 1 || (fs.NArg() == 1 && fs.Arg(0) != c.DBPath) {
		err = fmt.Errorf("unexpected arguments: %v", fs.Args())
	} else if c.Head < 0 {
		err = fmt.Errorf("head must not be negative: %d", c.Head)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	return c, nil
}
