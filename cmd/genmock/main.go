// Command genmock writes a synthetic accident archive with the same nesting,
// encoding and column layout as the police export, for local runs and demos.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock.zip -years 2016,2017 -rows 500
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

// approximate region centres in S-JTSK (EPSG:5514)
var centres = map[domain.Region][2]float64{
	"PHA": {-742000, -1045000},
	"STC": {-720000, -1060000},
	"JHC": {-760000, -1160000},
	"PLK": {-830000, -1080000},
	"ULK": {-770000, -980000},
	"HKK": {-630000, -1020000},
	"JHM": {-600000, -1170000},
	"MSK": {-475000, -1110000},
	"OLK": {-550000, -1110000},
	"ZLK": {-520000, -1180000},
	"VYS": {-640000, -1130000},
	"PAK": {-620000, -1070000},
	"LBK": {-690000, -980000},
	"KVK": {-860000, -1010000},
}

var places = []string{"Brno", "České Budějovice", "Ostrava", "Plzeň", "Olomouc", "Zlín", "Jihlava", "Pardubice", "Liberec", "Karlovy Vary", "Ústí nad Labem", "Hradec Králové"}

var causes = []string{"100", "201", "202", "205", "206", "301", "304", "401", "403", "408", "501", "503", "508", "601", "602", "607"}

type stats struct {
	rows      int
	perRegion map[domain.Region]int
	fatal     int
	noCoords  int
	dups      int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock.zip", "output archive path")
	yearsFlag := flag.String("years", "2016,2017,2018,2019,2020,2021", "comma-separated years, one inner archive each")
	rows := flag.Int("rows", 200, "rows per regional file")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	if *rows <= 0 {
		flag.Usage()
		return fmt.Errorf("-rows must be positive")
	}
	var years []int
	for _, s := range strings.Split(*yearsFlag, ",") {
		y, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid year %q", s)
		}
		years = append(years, y)
	}

	r := rand.New(rand.NewPCG(*seed, *seed^0x5bd1e995))
	st := stats{perRegion: map[domain.Region]int{}}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	outer := zip.NewWriter(f)
	for _, y := range years {
		inner, err := yearArchive(r, y, *rows, &st)
		if err != nil {
			return fmt.Errorf("year %d: %w", y, err)
		}
		w, err := outer.Create(strconv.Itoa(y) + ".zip")
		if err != nil {
			return err
		}
		if _, err := w.Write(inner); err != nil {
			return err
		}
	}
	// The export ships a readme next to the year archives.
	if w, err := outer.Create("README.txt"); err == nil {
		io.WriteString(w, "synthetic accident data\n") //nolint:errcheck // in-memory writer
	}
	if err := outer.Close(); err != nil {
		return err
	}

	log.Printf("wrote %s", *out)
	printStats(st)
	return nil
}

func yearArchive(r *rand.Rand, year, rows int, st *stats) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	regions := domain.Regions()
	for _, region := range regions {
		w, err := zw.Create(region.Code() + ".csv")
		if err != nil {
			return nil, err
		}
		enc := charmap.Windows1250.NewEncoder()
		for i := range rows {
			id := fmt.Sprintf("%02d%s%05d", year%100, region.Code(), i)
			// A handful of accidents are reported twice.
			if i > 0 && r.IntN(100) == 0 {
				id = fmt.Sprintf("%02d%s%05d", year%100, region.Code(), i-1)
				st.dups++
			}
			line := accident(r, id, region, year, st)
			encoded, err := enc.String(strings.Join(line, ";") + "\r\n")
			if err != nil {
				return nil, fmt.Errorf("encode row %s: %w", line[0], err)
			}
			if _, err := io.WriteString(w, encoded); err != nil {
				return nil, err
			}
			st.rows++
			st.perRegion[region]++
		}
	}
	// Files outside the region code set are skipped by ingestion.
	if w, err := zw.Create("CHODCI.csv"); err == nil {
		io.WriteString(w, "p1;p2\r\n") //nolint:errcheck // in-memory writer
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func accident(r *rand.Rand, id string, region domain.Region, year int, st *stats) []string {
	fields := make([]string, len(domain.Columns))
	set := func(col, v string) {
		i, _ := domain.ColumnIndex(col)
		fields[i] = v
	}
	pick := func(n int) string { return strconv.Itoa(r.IntN(n)) }

	day := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, r.IntN(365))
	set(domain.ColID, id)
	set(domain.ColDate, day.Format("2006-01-02"))
	set("weekday(p2a)", strconv.Itoa(int(day.Weekday())))
	set(domain.ColTime, fmt.Sprintf("%02d%02d", r.IntN(24), r.IntN(60)))
	set(domain.ColRoadClass, pick(9))
	set(domain.ColKind, strconv.Itoa(1+r.IntN(9)))
	set(domain.ColCollision, pick(5))
	set(domain.ColAlcohol, pick(10))
	set(domain.ColCause, causes[r.IntN(len(causes))])
	set(domain.ColVisibility, strconv.Itoa(1+r.IntN(7)))
	set("h", places[r.IntN(len(places))])
	set("p14", strconv.Itoa(r.IntN(500)))

	fatal := 0
	if r.IntN(50) == 0 {
		fatal = 1 + r.IntN(2)
		st.fatal++
	}
	set(domain.ColFatalities, strconv.Itoa(fatal))
	set(domain.ColSerious, strconv.Itoa(r.IntN(2)))
	set(domain.ColLight, strconv.Itoa(r.IntN(3)))

	if r.IntN(40) == 0 {
		st.noCoords++
	} else {
		c := centres[region]
		set(domain.ColX, decimal(c[0]+r.NormFloat64()*8000))
		set(domain.ColY, decimal(c[1]+r.NormFloat64()*8000))
	}
	return fields
}

// decimal formats v with a comma separator, the way the export writes numbers.
func decimal(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1)
}

func printStats(st stats) {
	fmt.Println("\n=== Generated archive ===")
	fmt.Printf("Rows: %d (duplicated ids: %d, without coordinates: %d, fatal: %d)\n",
		st.rows, st.dups, st.noCoords, st.fatal)

	regions := make([]domain.Region, 0, len(st.perRegion))
	for r := range st.perRegion {
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })
	fmt.Print("By region:")
	for _, r := range regions {
		fmt.Printf(" %s=%d", r, st.perRegion[r])
	}
	fmt.Println()
}
