package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/jsonutil"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/torrent"
	"github.com/dustin/go-humanize"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"
)

var (
	cfg = torrent.DefaultConfig
	log = logger.New("cmd")
)

func main() {
	app := cli.NewApp()
	app.Name = "torrent"
	app.Usage = "BitTorrent client"
	app.Version = torrent.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/.torrent.yaml",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warning or error",
			Value: "info",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download a torrent file or magnet link",
			ArgsUsage: "FILE|MAGNET",
			Action:    handleDownload,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "save, s",
					Usage: "save files under `DIR`",
					Value: ".",
				},
				cli.StringFlag{
					Name:  "listen",
					Usage: "listen for peer connections on `ADDR`",
				},
				cli.StringFlag{
					Name:  "database",
					Usage: "keep resume data in `FILE`",
				},
				cli.StringSliceFlag{
					Name:  "peer",
					Usage: "connect to peer at `ADDR`",
				},
				cli.BoolFlag{
					Name:  "seed",
					Usage: "continue seeding after download finishes",
				},
				cli.BoolFlag{
					Name:  "json",
					Usage: "print status as JSON",
				},
				cli.BoolFlag{
					Name:  "verbose, v",
					Usage: "print all status fields",
				},
			},
		},
		{
			Name:      "info",
			Usage:     "show contents of a torrent file",
			ArgsUsage: "FILE",
			Action:    handleInfo,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "json",
					Usage: "print as JSON",
				},
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	level, err := logger.ParseLevel(c.GlobalString("log-level"))
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	path, err := homedir.Expand(c.GlobalString("config"))
	if err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, &cfg)
}

func handleDownload(c *cli.Context) error {
	arg := c.Args().First()
	if arg == "" {
		return errors.New("torrent file or magnet link is required")
	}
	if c.IsSet("listen") {
		cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("database") {
		cfg.Database = c.String("database")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ses, err := torrent.NewSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ses.Close(); cerr != nil {
			log.Errorln("cannot close session:", cerr)
		}
	}()

	save, err := homedir.Expand(c.String("save"))
	if err != nil {
		return err
	}
	opt := &torrent.AddTorrentOptions{
		Seed:  c.Bool("seed"),
		Peers: c.StringSlice("peer"),
	}
	var t *torrent.Torrent
	if strings.HasPrefix(arg, "magnet:") {
		t, err = ses.AddMagnet(arg, save, opt)
	} else {
		var f *os.File
		f, err = os.Open(arg)
		if err != nil {
			return err
		}
		t, err = ses.AddTorrent(f, save, opt)
		_ = f.Close()
	}
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infoln("stopping")
			return nil
		case <-ticker.C:
		}
		for _, a := range ses.PopAlerts(100) {
			if a.Category == torrent.CategoryError {
				log.Errorln(a.Message)
			} else {
				log.Debugln(a.Message)
			}
		}
		st := t.Status()
		if err := printStatus(st, c.Bool("json"), c.Bool("verbose")); err != nil {
			return err
		}
		switch st.State {
		case torrent.Error:
			return st.Error
		case torrent.Finished:
			if !c.Bool("seed") {
				return nil
			}
		}
	}
}

func printStatus(st torrent.Status, asJSON, verbose bool) error {
	if asJSON || verbose {
		var b []byte
		var err error
		if asJSON {
			b, err = prettyjson.Marshal(st)
		} else {
			b, err = jsonutil.MarshalCompactPretty(st)
		}
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	fmt.Printf("%s: %s %s/%s (%.1f%%) down %s/s up %s/s peers %d\n",
		st.Name,
		st.State,
		humanize.IBytes(uint64(st.Progress*float64(st.TotalSize))),
		humanize.IBytes(uint64(st.TotalSize)),
		st.Progress*100,
		humanize.IBytes(uint64(st.DownloadRate)),
		humanize.IBytes(uint64(st.UploadRate)),
		st.PeerCount,
	)
	return nil
}

type fileInfo struct {
	Name        string
	InfoHash    string
	Size        uint64
	PieceLength uint32
	NumPieces   uint32
	Private     bool
	Files       []string
	Trackers    []string
	Comment     string
}

func handleInfo(c *cli.Context) error {
	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()
	mi, err := metainfo.New(f)
	if err != nil {
		return err
	}
	info := fileInfo{
		Name:        mi.Info.Name,
		InfoHash:    hex.EncodeToString(mi.Info.Hash[:]),
		Size:        uint64(mi.Info.TotalLength),
		PieceLength: mi.Info.PieceLength,
		NumPieces:   mi.Info.NumPieces,
		Private:     mi.Info.IsPrivate(),
		Trackers:    mi.Trackers(),
		Comment:     mi.Comment,
	}
	for _, fd := range mi.Info.GetFiles() {
		info.Files = append(info.Files, strings.Join(fd.Path, "/"))
	}
	if c.Bool("json") {
		b, err := prettyjson.Marshal(info)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	fmt.Printf("Name:         %s\n", info.Name)
	fmt.Printf("Info hash:    %s\n", info.InfoHash)
	fmt.Printf("Size:         %s\n", humanize.IBytes(info.Size))
	fmt.Printf("Piece length: %s\n", humanize.IBytes(uint64(info.PieceLength)))
	fmt.Printf("Pieces:       %d\n", info.NumPieces)
	fmt.Printf("Private:      %v\n", info.Private)
	for _, name := range info.Files {
		fmt.Printf("File:         %s\n", name)
	}
	for _, tr := range info.Trackers {
		fmt.Printf("Tracker:      %s\n", tr)
	}
	if info.Comment != "" {
		fmt.Printf("Comment:      %s\n", info.Comment)
	}
	return nil
}
