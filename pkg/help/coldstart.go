package help

const ColdstartYAML = `# pdf-batch-parser (pbp) Quick Start

commands:
  write_config: |
    pbp init                      # writes config.yaml, edit input_dir/output_dir

  local_run: |
    pbp run
    pbp run --workers 4 --batch-size 20 --retries 5

  distributed_run: |
    # on the coordinator host (embedded NATS server)
    pbp coordinator --embedded --listen 0.0.0.0:4222
    # on each worker host (same output_dir mounted)
    pbp worker --nats-url nats://coordinator:4222 --id gpu-1

  check_placement: |
    pbp classify "Acme Corp_2021_Annual Report.pdf"

  error_ledger: |
    pbp ledger list
    pbp ledger remove /data/in/Acme_2021_report.pdf
    pbp ledger clear

  history: |
    pbp history
    pbp history show            # latest run
    pbp history show <run-id>

key_files:
  - "<output_dir>/<Entity>_<Year>/ (one folder per document identity)"
  - "<output_dir>/<Entity>_<Year>/.pbp-state.json (pending|complete)"
  - "<output_dir>/error_log.json (files excluded from future runs)"
  - "<output_dir>/summary_report.txt (last run summary)"
  - "<output_dir>/failed-files.yaml (last run failures, only when any failed)"
  - "<output_dir>/logs/pdf_processing.log"
  - "<output_dir>/pbp-history.db (run history)"

artifacts_per_folder:
  - "elements_data.csv"
  - "all_elements_metadata.json"
  - "all_elements_metadata.html"
  - "table_<parent>_pages<labels>.html and table_<parent>_page<p>_part<n>.csv"
  - "copy of the source PDF"

run_invariants:
  - "A complete folder is never reprocessed"
  - "Files in error_log.json are skipped until removed"
  - "Each file is retried up to retry_attempts before it is ledgered"
  - "Cancelled or undelivered files are not ledgered"

error_behavior:
  - "Config errors: fail fast before any file is dispatched"
  - "Per-file errors: logged, listed in failed-files.yaml"
  - "Exit codes: 0=success, 1=partial failure, 2=complete failure"
`

// ConfigTemplate is written by pbp init. Every key shows its default.
const ConfigTemplate = `# pdf-batch-parser configuration
input_dir: ./input
output_dir: ./output
input_extension: .pdf

# legacy: entity is the filename up to the first underscore
# strict: entity is everything before the _YYYY_ token
classifier: legacy
# fail | overwrite
on_duplicate: fail

num_workers: 0          # 0 = CPUs minus reserved_cpus
reserved_cpus: 1
batch_size: 10
retry_attempts: 3
retry_delay: 0s
parallel_processing: true
skip_dirs:
  - Split_PDFs

preflight: true
detect_languages: false

engine:
  url: http://localhost:8000
  # api_key is read from UNSTRUCTURED_API_KEY when empty
  api_key: ""
  strategy: hi_res
  ocr_languages:
    - eng
  timeout: 10m
  cache_dir: ""
  cache_ttl: 0s

# local | distributed
dispatch: local

nats:
  url: nats://127.0.0.1:4222
  subject: pbp.work
  result_subject: pbp.result
  embedded: false
  listen: 0.0.0.0:4222

lease:
  timeout: 15m
  redeliver: true
  max_deliveries: 3
  idle_timeout: 1h

metrics_addr: ""
history_db: ""
`
