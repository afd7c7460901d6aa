/*
Langfilter turns Common Crawl WARC shards into a single-language text corpus.

# Architecture

A run reads shard ids from a paths file and splits them into batches of
pipeline.batch_size. Shards inside a batch are processed concurrently; the
next batch starts only after every shard of the current one has finished.

	paths file -> dispatcher -> worker (per shard) -> output file (per batch)
	                                 |
	      fetcher -> warc reader -> extract -> langid -> output writer

Each shard is downloaded into work_dir, decompressed, streamed record by record,
and deleted once processing ends, whether it succeeded or not. Pages whose
top-1 language equals pipeline.target_label are appended as {"url","content"}
JSON lines to the batch's file under output.dir.

After a batch completes the file can be uploaded to local or GCS storage and
announced on Pub/Sub. Shard outcomes can be recorded in Postgres, and a small
HTTP server exposes /metrics and /v1/progress while the run is going.

# Usage

	langfilter run --paths warc.paths.gz --batch-size 6 --target vie_Latn

Configuration comes from an optional --config file, LANGFILTER_* environment
variables and flags, in increasing order of precedence. One line per shard is
printed to stdout; the exit status is non-zero if any shard failed or the run
was interrupted.
*/
package main
