package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sectpack/common"
	"sectpack/perw"
	"sectpack/unpack"
	"strconv"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"
)

const versionString = "sectpack 0.1.0"

var cfg struct {
	verbose bool
	key     string
	window  int
	pack    struct {
		in, out   string
		sections  []string
		prefixes  []string
		obfuscate bool
		randomKey bool
		level     int
	}
	unpack struct {
		in, out   string
		obfuscate bool
		strict    bool
	}
	inspect struct {
		files []string
	}
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
	fs            = afero.NewOsFs()
)

func main() {
	defaults, err := common.LoadConfig()
	if err != nil {
		os.Exit(checkError(err))
	}

	app := kingpin.New(filepath.Base(os.Args[0]), "Pack PE sections into a trailer and restore them into a memory image.").UsageWriter(os.Stdout)
	app.Version(versionString)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("key", "Obfuscation key; only the low byte is used.").Default(fmt.Sprintf("0x%X", defaults.Key)).StringVar(&cfg.key)
	app.Flag("window", "Bytes from the end of the file searched for the trailer signature.").Default(strconv.Itoa(defaults.SearchWindow)).IntVar(&cfg.window)

	packCmd := app.Command("pack", "Compress sections into a trailer appended to the file.")
	packCmd.Arg("in", "PE file to pack.").Required().ExistingFileVar(&cfg.pack.in)
	packCmd.Arg("out", "Where to write the packed file.").Required().StringVar(&cfg.pack.out)
	packCmd.Flag("section", "Section to pack, repeatable.").Default(defaults.Sections...).StringsVar(&cfg.pack.sections)
	packCmd.Flag("prefix", "Pack every section whose name starts with this prefix, repeatable.").StringsVar(&cfg.pack.prefixes)
	packCmd.Flag("obfuscate", "XOR packed blobs with the key.").Default(strconv.FormatBool(defaults.Obfuscate)).BoolVar(&cfg.pack.obfuscate)
	packCmd.Flag("random-key", "Pick a random non-zero key and print it.").BoolVar(&cfg.pack.randomKey)
	packCmd.Flag("level", "zlib compression level, 0 for best.").Default(strconv.Itoa(defaults.Level)).IntVar(&cfg.pack.level)

	unpackCmd := app.Command("unpack", "Map a packed file, restore its sections and dump the image.")
	unpackCmd.Arg("in", "Packed PE file.").Required().ExistingFileVar(&cfg.unpack.in)
	unpackCmd.Arg("out", "Where to write the restored image.").Required().StringVar(&cfg.unpack.out)
	unpackCmd.Flag("obfuscate", "Blobs are XOR obfuscated.").Default(strconv.FormatBool(defaults.Obfuscate)).BoolVar(&cfg.unpack.obfuscate)
	unpackCmd.Flag("strict", "Skip a section instead of writing when page protection cannot be changed.").Default(strconv.FormatBool(defaults.StrictProtect)).BoolVar(&cfg.unpack.strict)

	inspectCmd := app.Command("inspect", "Print the section table and trailer of PE files.")
	inspectCmd.Arg("file", "PE file path").Required().ExistingFilesVar(&cfg.inspect.files)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	switch parsedCmd {
	case packCmd.FullCommand():
		os.Exit(checkError(runPack()))
	case unpackCmd.FullCommand():
		os.Exit(checkError(runUnpack()))
	case inspectCmd.FullCommand():
		for _, file := range cfg.inspect.files {
			if _, err := perw.InspectFile(fs, file, cfg.window, os.Stdout); err != nil {
				os.Exit(checkError(err))
			}
		}
	}
}

func runPack() error {
	key, err := common.ParseKey(cfg.key)
	if err != nil {
		return err
	}
	if cfg.pack.randomKey {
		if key, err = common.RandomKey(); err != nil {
			return err
		}
		fmt.Printf("%s Using key 0x%02X\n", common.SymbolInfo, key)
	}

	opts := perw.PackOptions{
		Sections:        cfg.pack.sections,
		SectionPrefixes: cfg.pack.prefixes,
		Obfuscate:       cfg.pack.obfuscate,
		Key:             key,
		Level:           cfg.pack.level,
		Logger:          logger,
	}
	result, err := perw.PackFile(fs, cfg.pack.in, cfg.pack.out, opts)
	if err != nil {
		return err
	}
	printResult(fmt.Sprintf("%s -> %s: %s", cfg.pack.in, cfg.pack.out, result), result)
	return nil
}

func runUnpack() error {
	image, raw, err := perw.MapFile(fs, cfg.unpack.in)
	if err != nil {
		return err
	}
	img, err := unpack.NewImage(image)
	if err != nil {
		return err
	}

	opts := []unpack.Option{
		unpack.WithSearchWindow(cfg.window),
		unpack.WithLogger(logger),
		// The dump lives in ordinary Go memory.
		unpack.WithProtector(unpack.NopProtector{}),
	}
	if cfg.unpack.obfuscate {
		key, err := common.ParseKey(cfg.key)
		if err != nil {
			return err
		}
		opts = append(opts, unpack.WithObfuscation(key))
	}
	if cfg.unpack.strict {
		opts = append(opts, unpack.WithStrictProtection())
	}

	report, err := unpack.Unpack(raw, img, opts...)
	if err != nil {
		return err
	}

	var details []common.OperationDetail
	for _, name := range report.Unpacked {
		details = append(details, common.OperationDetail{Message: fmt.Sprintf("unpacked %s", name), Count: 1})
	}
	for _, name := range report.Skipped {
		details = append(details, common.OperationDetail{Message: fmt.Sprintf("record %s skipped", name), IsRisky: true})
	}
	result := common.NewApplied(fmt.Sprintf("restored %d of %d records", len(report.Unpacked), len(report.Records)), len(report.Unpacked)).WithDetails(details)

	if err := perw.SaveImage(fs, cfg.unpack.out, image); err != nil {
		return err
	}
	printResult(fmt.Sprintf("%s -> %s: %s", cfg.unpack.in, cfg.unpack.out, result), result)
	return nil
}

func printResult(title string, result *common.OperationResult) {
	symbol := color.GreenString(common.SymbolCheck)
	if !result.Applied {
		symbol = color.YellowString(common.SymbolWarn)
	}
	if len(result.Details) == 0 {
		fmt.Println(symbol + " " + title)
		return
	}
	fmt.Println(common.FormatOperationResult(symbol+" "+title, result.Details, common.CategorizeDetails(result.Details)))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString(common.SymbolCross+" error:"), err)
	return 1
}
