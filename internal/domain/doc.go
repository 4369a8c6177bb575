// Package domain models police traffic-accident records for the Czech regions.
//
// # Data Source
//
// Accident statistics are published as one outer ZIP archive holding one
// inner ZIP per year ("2016.zip", "2017.zip", ...). Each inner archive holds
// one file per region named by the region's two-digit code ("06.csv" is JHM).
// Files are Windows-1250 encoded, semicolon separated and have no header row;
// the fixed column order is [Columns].
//
// # Conventions
//
// Region codes:
//
//	PHA=00 STC=01 JHC=02 PLK=03 ULK=04 HKK=05 JHM=06
//	MSK=07 OLK=14 ZLK=15 VYS=16 PAK=17 LBK=18 KVK=19
//	Codes 08-13 are not used. Files named by any other code are auxiliary
//	and are skipped.
//
// Dates:
//
//	p2a holds the report date ("2016-01-01"), p2b the time of day as HHMM
//	("0910"). Hours of 24 or more mark an unknown time; such rows keep the
//	date at midnight.
//
// Decimals:
//
//	Coordinates d and e are planar S-JTSK (EPSG:5514) values written with a
//	comma separator, e.g. "-565874,56". Values that do not parse are stored
//	as unknown, never as zero.
//
// Categories:
//
//	Forty coded columns are dictionary encoded. Columns listed in
//	vocabulary.yaml have a closed code list from the reporting form; observed
//	values outside it are kept but flagged as unrecognized.
//
// Identity:
//
//	p1 is the accident number and the primary key. When the same number
//	appears more than once, the first occurrence in (year, region code)
//	order is kept.
package domain
