package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/evaluator"
	"github.com/spigell/biz-matcher/internal/export"
	"github.com/spigell/biz-matcher/internal/logger"
	"github.com/spigell/biz-matcher/internal/matching"
	"github.com/spigell/biz-matcher/internal/metrics"
	"github.com/spigell/biz-matcher/internal/refine"
)

const (
	PromptRefine      = "Refine"
	PromptEditRefined = "Edit refined input"
	PromptSubmit      = "Submit for matching"
	PromptAnalysis    = "Analysis"
	PromptDownload    = "Download as XLSX"
	PromptDump        = "Dump to file"
	PromptExclude     = "Append candidates to exclude file"
	PromptNewNeed     = "New statement"
	PromptExit        = "Exit"

	PromptDefaultTemplate = "Use this prompt"
	PromptCustomTemplate  = "Enter a custom prompt"

	refinedPlaceholder = "The refined input will show here"
	noResultsMessage   = "No relevant documents found."
)

var (
	errExit    = errors.New("exit requested")
	errNewNeed = errors.New("new statement requested")
)

// actions lists the stage actions; the exclude action needs an exclude file.
func actions(app *application) promptui.Select {
	items := []string{PromptRefine, PromptEditRefined, PromptSubmit, PromptAnalysis, PromptDownload, PromptDump}
	if app.config.ExcludeFile != "" {
		items = append(items, PromptExclude)
	}
	items = append(items, PromptNewNeed, PromptExit)

	return promptui.Select{
		Label: "What next?",
		Items: items,
		Size:  len(items),
	}
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Find and assess candidates for a business need",
	Run: func(cmd *cobra.Command, _ []string) {
		runMatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("category", "c", "", "matching category: company, funds or solution")
	matchCmd.Flags().StringP("need", "n", "", "the business need; runs once without prompts when set")
	matchCmd.Flags().IntP("top-k", "k", 0, "how many candidates to retrieve (default from analysis.top-k)")
	matchCmd.Flags().StringSlice("columns", nil, "columns to display and export (default per category)")
	matchCmd.Flags().String("background", "", "the analyst's background used in the assessment prompt")
	matchCmd.Flags().String("prompt-file", "", "file with a custom assessment prompt")
	matchCmd.Flags().Bool("no-refine", false, "match on the raw need without refining it")
	matchCmd.Flags().Bool("analyze", false, "assess the retrieved candidates (one-shot mode)")
	matchCmd.Flags().StringP("output", "o", "", "xlsx file for the assessed table")
	matchCmd.Flags().Bool("dump", false, "dump the final table to a temporary file (one-shot mode)")
	matchCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	matchCmd.Flags().StringP("exclude-file", "e", "", "file with candidates to exclude. Default is unset.")
	matchCmd.Flags().Bool("no-exclude", false, "keep every retrieved candidate, ignoring exclude values and the exclude file")

	viper.BindPFlag("analysis.top-k", matchCmd.Flags().Lookup("top-k"))
	viper.BindPFlag("analysis.background", matchCmd.Flags().Lookup("background"))
	viper.BindPFlag("export.path", matchCmd.Flags().Lookup("output"))
	viper.BindPFlag("metrics.addr", matchCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("exclude-file", matchCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("no-exclude", matchCmd.Flags().Lookup("no-exclude"))
}

// matchOptions are the per-run choices resolved from flags and config.
type matchOptions struct {
	category   catalog.Category
	need       string
	topK       int
	columns    []string
	background string
	template   string
	refine     bool
	analyze    bool
	output     string
	dump       bool
	dumpFormat export.Format
	maxLogLen  int
}

func runMatch(cmd *cobra.Command) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the biz-matcher", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	opts, err := resolveOptions(cmd, config)
	if err != nil {
		logger.Fatal("parsing flags", zap.Error(err))
	}

	if config.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, config.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	app, err := newApplication(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing the session", zap.Error(err))
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	if opts.need != "" {
		err = runOnce(ctx, out, app, opts)
	} else {
		err = runInteractive(ctx, out, app, opts)
	}
	if err != nil && !errors.Is(err, errExit) {
		logger.Error("exiting", zap.Error(err))
		app.Close()
		os.Exit(1)
	}
}

func resolveOptions(cmd *cobra.Command, config *Config) (*matchOptions, error) {
	flags := cmd.Flags()

	opts := &matchOptions{
		topK:       viper.GetInt("analysis.top-k"),
		background: viper.GetString("analysis.background"),
		template:   config.Analysis.Prompt,
		output:     viper.GetString("export.path"),
		maxLogLen:  config.Analysis.MaxLogLength,
	}
	if opts.topK < 1 {
		return nil, fmt.Errorf("top-k must be at least 1, got %d", opts.topK)
	}

	var err error
	if opts.dumpFormat, err = export.ParseFormat(config.Export.DumpFormat); err != nil {
		return nil, err
	}

	if raw, _ := flags.GetString("category"); raw != "" {
		if opts.category, err = parseCategoryFlag(raw); err != nil {
			return nil, err
		}
		if !isConfigured(config, opts.category) {
			return nil, fmt.Errorf("%s is not configured", opts.category)
		}
	}

	opts.need, _ = flags.GetString("need")
	opts.need = strings.TrimSpace(opts.need)
	if opts.need != "" && opts.category == "" {
		return nil, errors.New("--category is required together with --need")
	}

	opts.columns, _ = flags.GetStringSlice("columns")
	noRefine, _ := flags.GetBool("no-refine")
	opts.refine = !noRefine
	opts.analyze, _ = flags.GetBool("analyze")
	opts.dump, _ = flags.GetBool("dump")

	if path, _ := flags.GetString("prompt-file"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		opts.template = string(content)
	}

	return opts, nil
}

// parseCategoryFlag accepts both the short key and the full label.
func parseCategoryFlag(raw string) (catalog.Category, error) {
	if c, err := categoryByKey(raw); err == nil {
		return c, nil
	}
	return catalog.ParseCategory(raw)
}

func (o *matchOptions) columnsFor(app *application, category catalog.Category) []string {
	if len(o.columns) > 0 {
		return o.columns
	}
	p, ok := app.session.Pipeline(category)
	if !ok {
		return nil
	}
	var configured []string
	if cfg, ok := app.config.category(category); ok {
		configured = cfg.Columns
	}
	return p.DefaultColumns(configured)
}

// runOnce submits the need from flags and walks the stages without prompts.
func runOnce(ctx context.Context, out io.Writer, app *application, opts *matchOptions) error {
	s := app.session

	if err := s.Submit(matching.NeedStatement{Category: opts.category, Text: opts.need}); err != nil {
		return err
	}

	if opts.refine {
		refined, err := s.Refine(ctx)
		if err != nil {
			app.logger.Warn("refinement failed, matching on the raw input", zap.Error(err))
		} else {
			app.logger.Info("refined input", zap.String("refined", refined))
		}
	}

	table, err := s.Match(ctx, opts.topK, opts.columnsFor(app, opts.category))
	if errors.Is(err, matching.ErrNoResults) {
		fmt.Fprintln(out, noResultsMessage)
		return nil
	}
	if err != nil {
		return err
	}
	printPreview(out, table, opts.maxLogLen)

	if opts.analyze {
		if err := analyze(ctx, out, app, opts, opts.background, "", opts.template); err != nil {
			return err
		}
		if err := s.Export(opts.output); err != nil {
			return err
		}
		app.logger.Info("exported the assessed table", zap.String("filename", opts.output))
	}

	if opts.dump {
		filename, err := s.Dump(opts.dumpFormat)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		app.logger.Info("dumping result to file", zap.String("filename", filename))
	}
	return nil
}

// runInteractive asks for a need and then loops over the stage actions until exit.
func runInteractive(ctx context.Context, out io.Writer, app *application, opts *matchOptions) error {
	for {
		need, err := askNeed(app, opts)
		if err != nil {
			return promptErr(err)
		}
		if err := app.session.Submit(need); err != nil {
			return err
		}

		err = statementLoop(ctx, out, app, opts)
		switch {
		case errors.Is(err, errNewNeed):
			continue
		case err != nil:
			return err
		}
	}
}

func statementLoop(ctx context.Context, out io.Writer, app *application, opts *matchOptions) error {
	prompt := actions(app)
	for {
		_, action, err := prompt.Run()
		if err != nil {
			return promptErr(err)
		}

		err = handleAction(ctx, out, action, app, opts)
		switch {
		case err == nil:
		case errors.Is(err, errExit), errors.Is(err, errNewNeed):
			return err
		case errors.Is(err, matching.ErrNotReady):
			app.logger.Warn("action is not available yet",
				zap.String("action", action),
				zap.Stringer("state", app.session.State()),
			)
		case errors.Is(err, context.Canceled):
			// already reported by analyze
		case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
			return errExit
		default:
			app.logger.Error("action failed", zap.String("action", action), zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, out io.Writer, action string, app *application, opts *matchOptions) error {
	s := app.session

	switch action {
	case PromptRefine:
		refined, err := s.Refine(ctx)
		if errors.Is(err, refine.ErrEmptyInput) {
			fmt.Fprintln(out, refinedPlaceholder)
			return nil
		}
		if err != nil {
			return fmt.Errorf("refine, the raw input will be used: %w", err)
		}
		fmt.Fprintf(out, "Refined input:\n%s\n", refined)
		return nil
	case PromptEditRefined:
		edit := promptui.Prompt{
			Label:     "Refined input",
			Default:   s.EffectiveQuery(),
			AllowEdit: true,
		}
		text, err := edit.Run()
		if err != nil {
			return err
		}
		return s.EditRefined(text)
	case PromptSubmit:
		return submit(ctx, out, app, opts)
	case PromptAnalysis:
		background, need, template, err := askAnalysis(out, s, opts)
		if err != nil {
			return err
		}
		return analyze(ctx, out, app, opts, background, need, template)
	case PromptDownload:
		path := promptui.Prompt{
			Label:     "XLSX file",
			Default:   opts.output,
			AllowEdit: true,
			Validate:  notBlank,
		}
		filename, err := path.Run()
		if err != nil {
			return err
		}
		if err := s.Export(strings.TrimSpace(filename)); err != nil {
			return err
		}
		app.logger.Info("exported the assessed table", zap.String("filename", s.ExportPath()))
		return nil
	case PromptDump:
		filename, err := s.Dump(opts.dumpFormat)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		app.logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExclude:
		added, err := app.excludeMatched()
		if err != nil {
			return fmt.Errorf("append to exclude file: %w", err)
		}
		app.logger.Info("appended to exclude file",
			zap.String("filename", app.config.ExcludeFile),
			zap.Int("added", added),
		)
		return nil
	case PromptNewNeed:
		return errNewNeed
	case PromptExit:
		app.logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func submit(ctx context.Context, out io.Writer, app *application, opts *matchOptions) error {
	s := app.session
	need, ok := s.Need()
	if !ok {
		return matching.ErrNotReady
	}

	topK := promptui.Prompt{
		Label:     "How many candidates",
		Default:   strconv.Itoa(opts.topK),
		AllowEdit: true,
		Validate:  positiveInt,
	}
	rawK, err := topK.Run()
	if err != nil {
		return err
	}
	k, _ := strconv.Atoi(strings.TrimSpace(rawK))

	var dataset *catalog.Dataset
	if p, ok := s.Pipeline(need.Category); ok {
		dataset = p.Dataset()
	}
	columnsPrompt := promptui.Prompt{
		Label:     "Columns (comma separated)",
		Default:   strings.Join(opts.columnsFor(app, need.Category), ","),
		AllowEdit: true,
		Validate: func(in string) error {
			if dataset == nil {
				return nil
			}
			return dataset.ValidateColumns(splitColumns(in))
		},
	}
	rawColumns, err := columnsPrompt.Run()
	if err != nil {
		return err
	}

	table, err := s.Match(ctx, k, splitColumns(rawColumns))
	if errors.Is(err, matching.ErrNoResults) {
		fmt.Fprintln(out, noResultsMessage)
		return nil
	}
	if err != nil {
		return err
	}
	printPreview(out, table, opts.maxLogLen)
	return nil
}

func askAnalysis(out io.Writer, s *matching.Session, opts *matchOptions) (string, string, string, error) {
	bg := promptui.Prompt{
		Label:     "Your background",
		Default:   opts.background,
		AllowEdit: true,
	}
	background, err := bg.Run()
	if err != nil {
		return "", "", "", err
	}

	needPrompt := promptui.Prompt{
		Label:     "Business need",
		Default:   s.EffectiveQuery(),
		AllowEdit: true,
	}
	need, err := needPrompt.Run()
	if err != nil {
		return "", "", "", err
	}

	template := opts.template
	if strings.TrimSpace(template) == "" {
		template = evaluator.DefaultTemplate()
	}
	fmt.Fprintf(out, "Prompt:\n%s\n", template)

	choice := promptui.Select{
		Label: "Prompt",
		Items: []string{PromptDefaultTemplate, PromptCustomTemplate},
	}
	_, selected, err := choice.Run()
	if err != nil {
		return "", "", "", err
	}
	if selected == PromptCustomTemplate {
		custom := promptui.Prompt{
			Label:    "Custom prompt (BACKGROUND and NEED placeholders in double braces are replaced)",
			Validate: notBlank,
		}
		if template, err = custom.Run(); err != nil {
			return "", "", "", err
		}
	}

	return background, need, template, nil
}

// analyze evaluates the matched rows, printing each one as it finishes. Ctrl+C stops
// issuing new evaluations and keeps what was already assessed.
func analyze(ctx context.Context, out io.Writer, app *application, opts *matchOptions, background, need, template string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	s := app.session
	var columns []string
	if matched := s.Matched(); matched != nil {
		columns = matched.Columns
	}

	table, err := s.Analyze(ctx, background, need, template, printProgress(out, columns))
	if errors.Is(err, context.Canceled) {
		app.logger.Warn("analysis cancelled, partial verdicts kept")
	} else if err != nil {
		return err
	}
	if table == nil {
		return err
	}

	app.logger.Info("analysis finished",
		zap.Int("candidates", table.Len()),
		zap.Int("matches", table.Matches()),
		zap.Int("failed", table.Failed()),
	)
	printPreview(out, table, opts.maxLogLen)
	return err
}

func askNeed(app *application, opts *matchOptions) (matching.NeedStatement, error) {
	categories := app.config.configuredCategories()
	labels := make([]string, 0, len(categories))
	cursor := 0
	for i, c := range categories {
		labels = append(labels, c.String())
		if c == opts.category {
			cursor = i
		}
	}

	selectCategory := promptui.Select{
		Label:     "Matching category",
		Items:     labels,
		CursorPos: cursor,
	}
	idx, _, err := selectCategory.Run()
	if err != nil {
		return matching.NeedStatement{}, err
	}

	needPrompt := promptui.Prompt{Label: "Describe the business need"}
	text, err := needPrompt.Run()
	if err != nil {
		return matching.NeedStatement{}, err
	}

	return matching.NeedStatement{Category: categories[idx], Text: text}, nil
}

// promptErr turns an interrupted prompt into a normal exit.
func promptErr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return errExit
	}
	return err
}

func splitColumns(in string) []string {
	var out []string
	for _, c := range strings.Split(in, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func notBlank(in string) error {
	if strings.TrimSpace(in) == "" {
		return errors.New("must not be empty")
	}
	return nil
}

func positiveInt(in string) error {
	n, err := strconv.Atoi(strings.TrimSpace(in))
	if err != nil {
		return errors.New("must be a number")
	}
	if n < 1 {
		return errors.New("must be at least 1")
	}
	return nil
}
