package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fabfab/fundlens/agent"
	"github.com/fabfab/fundlens/commentary"
	"github.com/fabfab/fundlens/ingestion"
	"github.com/fabfab/fundlens/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Index extracted report JSON files from a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Indexer.IndexPath(ctx, args[0])
		if err != nil {
			return fmt.Errorf("ingest %s: %w", args[0], err)
		}
		for _, r := range results {
			status := "indexed"
			if !r.Created {
				status = "already indexed"
			}
			fmt.Printf("%s: %s (%d chunks)\n", r.DocID, status, r.Chunks)
		}
		return nil
	},
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List indexed documents, most recently used first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		docs, err := a.Documents.List(ctx, limit)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if len(docs) == 0 {
			fmt.Println("No documents indexed.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFUND\tPERIOD\tPAGES\tLAST USED")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.FundName, d.ReportPeriod, d.PageCount, humanize.Time(d.LastAccessed))
		}
		return tw.Flush()
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask the agent questions about the indexed reports",
	Long:  "Runs one turn with --question, otherwise reads questions from stdin until EOF or \"exit\".",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		question, _ := cmd.Flags().GetString("question")
		session, _ := cmd.Flags().GetString("session")
		docID, _ := cmd.Flags().GetString("doc")
		verbose, _ := cmd.Flags().GetBool("steps")
		if session == "" {
			session = uuid.NewString()
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var opts []agent.RunOption
		if docID != "" {
			opts = append(opts, agent.WithDocumentHint(docID))
		}
		ask := func(q string) error {
			reply, err := a.Agent.Run(ctx, session, q, opts...)
			if err != nil {
				return err
			}
			if verbose {
				for _, s := range reply.Steps {
					fmt.Printf("  -> %s %s\n", s.Tool, s.Arguments)
				}
			}
			fmt.Println(reply.Answer)
			if reply.BoundReached {
				fmt.Println("(stopped at the iteration limit)")
			}
			return nil
		}

		if strings.TrimSpace(question) != "" {
			return ask(question)
		}

		fmt.Printf("Session %s. Type \"exit\" to quit.\n", session)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			q := strings.TrimSpace(scanner.Text())
			if q == "" {
				continue
			}
			if q == "exit" || q == "quit" {
				break
			}
			if err := ask(q); err != nil {
				logger.Error().Err(err).Msg("chat turn failed")
			}
		}
		if n, err := a.Processor.DeleteSession(ctx, session); err != nil {
			logger.Warn().Err(err).Msg("drop session sources")
		} else if n > 0 {
			logger.Info().Int("removed", n).Msg("dropped temporary session sources")
		}
		return scanner.Err()
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <doc-id>",
	Short: "Generate a fund comment for an indexed document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		params := models.DefaultCommentParameters()
		kind, _ := flags.GetString("type")
		tone, _ := flags.GetString("tone")
		length, _ := flags.GetString("length")
		params.CommentType = models.CommentType(kind)
		params.Tone = models.Tone(tone)
		params.Length = models.Length(length)
		params.TopNHoldings, _ = flags.GetInt("top")
		params.TimePeriod, _ = flags.GetString("period")
		params.CustomInstructions, _ = flags.GetString("instructions")
		additional, _ := flags.GetString("context")
		formatName, _ := flags.GetString("format")
		output, _ := flags.GetString("output")

		format, err := commentary.ParseFormat(formatName)
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.Documents.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if doc.Extracted == nil {
			return fmt.Errorf("document %s has no extracted data", doc.ID)
		}

		text, err := a.Comment.Generate(ctx, *doc.Extracted, params, additional, commentary.ForDocument(doc.ID))
		if err != nil {
			return err
		}
		if _, err := a.Comments.Save(ctx, models.Comment{
			DocID:       doc.ID,
			CommentType: params.CommentType,
			Parameters:  params.Normalize(),
			Content:     text,
		}); err != nil {
			logger.Warn().Err(err).Msg("save comment history")
		}

		out, err := commentary.Export(text, format)
		if err != nil {
			return err
		}
		if output == "" {
			_, err = os.Stdout.Write(out.Content)
			return err
		}
		if output == "." {
			output = out.Filename
		}
		if err := os.WriteFile(output, out.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", output, err)
		}
		fmt.Printf("Wrote %s (%s)\n", output, humanize.Bytes(uint64(len(out.Content))))
		return nil
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <doc-id>",
	Short: "Attach a file, web page or stock snapshot to a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")
		pageURL, _ := cmd.Flags().GetString("url")
		ticker, _ := cmd.Flags().GetString("ticker")

		set := 0
		for _, v := range []string{file, pageURL, ticker} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("give exactly one of --file, --url or --ticker")
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		at := ingestion.Attach{ParentDocID: args[0]}
		var src models.SecondarySource
		switch {
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			src, err = a.Processor.AddFile(ctx, at, filepath.Base(file), data)
			if err != nil {
				return err
			}
		case pageURL != "":
			if src, err = a.Processor.AddURL(ctx, at, pageURL); err != nil {
				return err
			}
		default:
			if src, err = a.Processor.AddTicker(ctx, at, ticker); err != nil {
				return err
			}
		}
		fmt.Printf("%s: %s %q (%d chunks)\n", src.SourceID, src.SourceType, src.Name, src.ChunkCount)
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources <doc-id>",
	Short: "List the secondary sources attached to a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		srcs, err := a.Processor.List(ctx, args[0], all)
		if err != nil {
			return err
		}
		if len(srcs) == 0 {
			fmt.Println("No sources attached.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNAME\tSIZE\tCHUNKS\tADDED\tSTATUS")
		for _, s := range srcs {
			status := "ok"
			switch {
			case s.Error != "":
				status = "error: " + s.Error
			case s.IsTemporary:
				status = "temporary"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				s.SourceID, s.SourceType, s.Name, humanize.Bytes(uint64(s.FileSize)), s.ChunkCount, humanize.Time(s.CreatedAt), status)
		}
		return tw.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document with everything attached to it, or one source with --source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		isSource, _ := cmd.Flags().GetBool("source")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id := args[0]
		if isSource {
			n, err := a.Indexer.DeleteSource(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted source %s (%d chunks)\n", id, n)
			return nil
		}
		n, err := a.Indexer.DeleteDocument(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted document %s (%d chunks)\n", id, n)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove temporary sources older than --max-age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		if maxAge <= 0 {
			maxAge = cfg.Sources.TemporaryTTL
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Processor.CleanupTemporary(ctx, maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d temporary sources older than %s\n", n, maxAge)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every indexed document, source, comment and graph node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		confirmed, _ := cmd.Flags().GetBool("confirm")

		if !confirmed {
			fmt.Print("This will permanently delete all indexed data. Continue? [y/N]: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				logger.Info().Msg("clear aborted")
				return nil
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				logger.Info().Msg("clear aborted")
				return nil
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		logger.Info().Msg("indexed data removed")
		return nil
	},
}

func init() {
	documentsCmd.Flags().Int("limit", 50, "maximum documents to list")

	chatCmd.Flags().StringP("question", "q", "", "ask one question and exit")
	chatCmd.Flags().String("session", "", "conversation id to continue (default: new session)")
	chatCmd.Flags().String("doc", "", "document the questions are about")
	chatCmd.Flags().Bool("steps", false, "print the tool calls of each turn")

	commentCmd.Flags().String("type", string(models.CommentAssetManager), "comment type")
	commentCmd.Flags().String("tone", string(models.ToneFormal), "formal, conversational or technical")
	commentCmd.Flags().String("length", string(models.LengthMedium), "brief, medium or detailed")
	commentCmd.Flags().Int("top", 5, "number of top holdings to include")
	commentCmd.Flags().String("period", "", "time period label")
	commentCmd.Flags().String("instructions", "", "custom instructions")
	commentCmd.Flags().String("context", "", "additional analyzed content to ground the comment on")
	commentCmd.Flags().StringP("format", "f", string(commentary.FormatMarkdown), "txt, md, html, json or pdf")
	commentCmd.Flags().StringP("output", "o", "", "write to this file (\".\" uses the generated name)")

	attachCmd.Flags().String("file", "", "pdf, docx, txt or csv file")
	attachCmd.Flags().String("url", "", "web page to fetch")
	attachCmd.Flags().String("ticker", "", "company name or ticker for a stock snapshot")

	sourcesCmd.Flags().Bool("all", false, "include temporary sources")

	deleteCmd.Flags().Bool("source", false, "the id names a secondary source")

	cleanupCmd.Flags().Duration("max-age", 0, "age limit (default from config, 24h)")

	clearCmd.Flags().Bool("confirm", false, "skip confirmation prompt")
}
