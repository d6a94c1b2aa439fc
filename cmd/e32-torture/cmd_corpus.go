package main

import (
	"github.com/spf13/cobra"

	"github.com/lattice-substrate/e32-torture/harness"
)

func (a *app) auditCommand() *cobra.Command {
	var (
		suites     []string
		reportPath string
		scanDir    string
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Find identical fingerprints claimed by different classes",
		Long: `Audit hashes the fingerprint files of a run together with the reference
corpus and reports identical contents attributed to more than one class.
Produced files come from a JSON run report (--report) or from a directory of
code-qualified fingerprint files (--scan).`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if (reportPath == "") == (scanDir == "") {
				return usageError("audit requires exactly one of --report or --scan")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			var report *harness.Report
			names := suites
			if reportPath != "" {
				if report, err = harness.LoadReport(reportPath); err != nil {
					return usageError("%v", err)
				}
				if len(names) == 0 {
					for _, s := range report.Suites {
						names = append(names, s.Summary.Suite)
					}
				}
			}
			built, err := harness.BuildSuites(cfg, names, harness.BuildOptions{})
			if err != nil {
				return err
			}
			duplicates := 0
			for _, s := range built {
				var fps []harness.Fingerprint
				if report != nil {
					fps = harness.CollectFingerprints(s, report.Outcomes())
				} else if fps, err = harness.ScanFingerprints(s, scanDir); err != nil {
					return err
				}
				res, err := harness.Audit(cfg.Workdir, fps)
				if err != nil {
					return err
				}
				duplicates += len(res.Duplicates)
				if err := writef(a.stdout, "suite %s: ", s.Name()); err != nil {
					return err
				}
				if err := harness.WriteAudit(a.stdout, res); err != nil {
					return err
				}
			}
			if strict && duplicates > 0 {
				a.exitCode = 1
			}
			return nil
		},
	}
	fs := cmd.Flags()
	addSuiteFlag(fs, &suites, "suite to audit (repeatable)")
	fs.StringVar(&reportPath, "report", "", "JSON run report naming the produced fingerprints")
	fs.StringVar(&scanDir, "scan", "", "directory of code-qualified fingerprint files")
	fs.BoolVar(&strict, "strict", false, "exit 1 when any duplicate is found")
	return cmd
}

func (a *app) promoteCommand() *cobra.Command {
	var (
		suites     []string
		reportPath string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Copy the fingerprints of a deduce run into the reference corpus",
		Long: `Promote takes a JSON report of a deduce run, checks that every member of a
class produced identical fingerprints and writes one representative to the
corpus path of the class. Classes with disagreeing members are left alone and
make the command exit 1.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if reportPath == "" {
				return usageError("promote requires --report")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			report, err := harness.LoadReport(reportPath)
			if err != nil {
				return usageError("%v", err)
			}
			if err := harness.VerifyReport(report); err != nil {
				return usageError("%v", err)
			}
			names := suites
			if len(names) == 0 {
				for _, s := range report.Suites {
					names = append(names, s.Summary.Suite)
				}
			}
			built, err := harness.BuildSuites(cfg, names, harness.BuildOptions{})
			if err != nil {
				return err
			}
			for _, s := range built {
				res, err := harness.Promote(s, report.Outcomes(), dryRun)
				if err != nil {
					return err
				}
				if err := writef(a.stdout, "suite %s:\n", s.Name()); err != nil {
					return err
				}
				if err := harness.WritePromotion(a.stdout, res, dryRun); err != nil {
					return err
				}
				if len(res.Conflicts) > 0 {
					a.exitCode = 1
				}
			}
			return nil
		},
	}
	fs := cmd.Flags()
	addSuiteFlag(fs, &suites, "suite to promote (repeatable, default every suite in the report)")
	fs.StringVar(&reportPath, "report", "", "JSON report of the deduce run")
	fs.BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return cmd
}

func (a *app) verifyReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-report REPORT [OTHER]",
		Short: "Check a report's outcome digest, or that two runs agree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			reports := make([]*harness.Report, 0, len(args))
			for _, p := range args {
				r, err := harness.LoadReport(p)
				if err != nil {
					return usageError("%v", err)
				}
				reports = append(reports, r)
			}
			var err error
			if len(reports) == 1 {
				err = harness.VerifyReport(reports[0])
			} else {
				err = harness.CompareReports(reports[0], reports[1])
			}
			if err != nil {
				a.exitCode = 1
				return writef(a.stderr, "verify failed: %v\n", err)
			}
			return writef(a.stdout, "ok outcome_sha256=%s\n", reports[0].OutcomeSHA256)
		},
	}
}
