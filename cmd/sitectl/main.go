// Command sitectl manages sites through the gateway's admin API.
//
// It reads the gateway address from GATEWAY_URL and the bearer token from
// GATEWAY_ADMIN_TOKEN; -url and -token override them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdko-org/site-gateway/internal/siteclient"
	"github.com/sdko-org/site-gateway/internal/sites"
	"github.com/sirupsen/logrus"
)

const usage = `usage: sitectl [-url URL] [-token TOKEN] [-v] <command> [args]

commands:
  publish <build_dir> <brand> <site> [-title T] [-brand-kit manifest.json]
  update <build_dir> <brand> <site> [-title T] [-brand-kit manifest.json]
  list [brand]
  info <brand> <site>
  download <brand> <site> [output_dir]
  delete <brand> <site>
  rotate-password <brand> <site>
  keys create <label>
  keys revoke <id>
`

type cli struct {
	client *siteclient.Client
	out    io.Writer
	errOut io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("sitectl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	baseURL := global.String("url", os.Getenv("GATEWAY_URL"), "gateway base URL")
	token := global.String("token", os.Getenv("GATEWAY_ADMIN_TOKEN"), "admin bearer token")
	verbose := global.Bool("v", false, "log HTTP requests")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	if *baseURL == "" || *token == "" {
		fmt.Fprintln(stderr, "error: GATEWAY_URL and GATEWAY_ADMIN_TOKEN must be set (or pass -url and -token)")
		return 2
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	c := &cli{
		client: siteclient.NewClient(logger, *baseURL, *token),
		out:    stdout,
		errOut: stderr,
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	var err error
	switch cmd {
	case "publish":
		err = c.publish(ctx, rest)
	case "update":
		err = c.update(ctx, rest)
	case "list":
		err = c.list(ctx, rest)
	case "info":
		err = c.info(ctx, rest)
	case "download":
		err = c.download(ctx, rest)
	case "delete":
		err = c.delete(ctx, rest)
	case "rotate-password":
		err = c.rotate(ctx, rest)
	case "keys":
		err = c.keys(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	var usageErr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr):
		fmt.Fprintf(stderr, "usage: sitectl %s\n", usageErr)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

type usageError string

func (u usageError) Error() string { return string(u) }

// parseArgs lets flags appear before, between or after positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

type uploadArgs struct {
	dir, brand, site string
	title            string
	titleSet         bool
	files            map[string]string
	tokens           map[string]string
}

func (c *cli) parseUpload(name string, args []string) (*uploadArgs, error) {
	fs := newFlagSet(name, c.errOut)
	title := fs.String("title", "", "site title")
	kit := fs.String("brand-kit", "", "brand kit manifest.json for login page colors")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) != 3 {
		return nil, usageError(name + " <build_dir> <brand> <site> [-title T] [-brand-kit manifest.json]")
	}

	u := &uploadArgs{dir: pos[0], brand: pos[1], site: pos[2], title: *title}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "title" {
			u.titleSet = true
		}
	})

	if u.files, err = siteclient.ReadBuildDir(u.dir); err != nil {
		return nil, err
	}
	if *kit != "" {
		tokens, err := siteclient.ReadBrandTokens(*kit)
		if err != nil {
			fmt.Fprintf(c.errOut, "warning: could not read brand kit: %v\n", err)
		} else {
			u.tokens = tokens
		}
	}
	return u, nil
}

func (c *cli) publish(ctx context.Context, args []string) error {
	u, err := c.parseUpload("publish", args)
	if err != nil {
		return err
	}
	title := u.title
	if title == "" {
		title = u.site
	}
	res, err := c.client.Publish(ctx, u.brand, u.site, sites.PublishInput{
		Title:       title,
		Files:       u.files,
		BrandTokens: u.tokens,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Published: %s\n", res.URL)
	fmt.Fprintf(c.out, "Password:  %s\n", res.Password)
	fmt.Fprintf(c.out, "Files:     %d\n", res.Files)
	return nil
}

func (c *cli) update(ctx context.Context, args []string) error {
	u, err := c.parseUpload("update", args)
	if err != nil {
		return err
	}
	in := sites.UpdateInput{Files: u.files, BrandTokens: u.tokens}
	if u.titleSet {
		in.Title = &u.title
	}
	res, err := c.client.Update(ctx, u.brand, u.site, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Updated: %s\n", res.URL)
	fmt.Fprintf(c.out, "Files:   %d\n", res.Files)
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return usageError("list [brand]")
	}
	var brand string
	if len(args) == 1 {
		brand = args[0]
	}
	res, err := c.client.List(ctx, brand)
	if err != nil {
		return err
	}
	if res.Count == 0 {
		fmt.Fprintln(c.out, "No sites found.")
		return nil
	}
	for _, s := range res.Sites {
		fmt.Fprintf(c.out, "%-20s %-30s %-30s %s\n", s.Brand+"/"+s.Name, s.Title, s.URL, s.Created)
	}
	fmt.Fprintf(c.out, "\n%d site(s)\n", res.Count)
	return nil
}

func siteArgs(name string, args []string) (brand, site string, err error) {
	if len(args) != 2 {
		return "", "", usageError(name + " <brand> <site>")
	}
	return args[0], args[1], nil
}

func (c *cli) info(ctx context.Context, args []string) error {
	brand, site, err := siteArgs("info", args)
	if err != nil {
		return err
	}
	res, err := c.client.Get(ctx, brand, site)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Site:    %s/%s\n", res.Brand, res.Name)
	fmt.Fprintf(c.out, "Title:   %s\n", res.Title)
	fmt.Fprintf(c.out, "URL:     %s\n", res.URL)
	fmt.Fprintf(c.out, "Created: %s\n", res.Created)
	if len(res.BrandTokens) > 0 {
		fmt.Fprintf(c.out, "Colors:  %d brand token(s)\n", len(res.BrandTokens))
	}
	return nil
}

func (c *cli) download(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usageError("download <brand> <site> [output_dir]")
	}
	outDir := "./build"
	if len(args) == 3 {
		outDir = args[2]
	}
	res, err := c.client.Download(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if len(res.Files) == 0 {
		return errors.New("no files found")
	}
	n, err := siteclient.WriteFiles(outDir, res.Files)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Downloaded %d file(s) to %s/ (%d bytes)\n", len(res.Files), outDir, n)
	if res.Metadata.Title != "" {
		fmt.Fprintf(c.out, "Title: %s\n", res.Metadata.Title)
	}
	return nil
}

func (c *cli) delete(ctx context.Context, args []string) error {
	brand, site, err := siteArgs("delete", args)
	if err != nil {
		return err
	}
	res, err := c.client.Delete(ctx, brand, site)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted: %s (%d files)\n", res.Deleted, res.Files)
	return nil
}

func (c *cli) rotate(ctx context.Context, args []string) error {
	brand, site, err := siteArgs("rotate-password", args)
	if err != nil {
		return err
	}
	res, err := c.client.RotatePassword(ctx, brand, site)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "New password: %s\n", res.Password)
	fmt.Fprintf(c.out, "URL:          %s\n", res.URL)
	return nil
}

func (c *cli) keys(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("keys create <label> | keys revoke <id>")
	}
	switch args[0] {
	case "create":
		key, err := c.client.CreateKey(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Key ID: %s\n", key.ID)
		fmt.Fprintf(c.out, "Token:  %s\n", key.Token)
		fmt.Fprintln(c.out, "The token is shown once; store it now.")
		return nil
	case "revoke":
		if err := c.client.RevokeKey(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Revoked: %s\n", args[1])
		return nil
	default:
		return usageError("keys create <label> | keys revoke <id>")
	}
}
