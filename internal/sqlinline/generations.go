package sqlinline

const QEnsureGenerationRequests = `--sql 5d0f3a8e-7b1c-4e2a-9f64-2c8d1b7e4a90
create table if not exists generation_requests (
  id                uuid primary key,
  request_id        text not null default '',
  model             text not null,
  prompt            text not null,
  negative_prompt   text not null,
  style_strength    double precision not null,
  identity_strength double precision not null,
  content_type      text not null default '',
  filename          text not null default '',
  image_bytes       integer not null default 0,
  status            text not null,
  error_message     text,
  retryable         boolean not null default false,
  output_json       jsonb,
  country_code      text,
  duration_ms       bigint not null default 0,
  created_at        timestamptz not null default now()
);
`

const QInsertGenerationRequest = `--sql 9a4e6c12-3f8b-4d57-a0e1-6b2f9c8d7e35
insert into generation_requests(
  id,
  request_id,
  model,
  prompt,
  negative_prompt,
  style_strength,
  identity_strength,
  content_type,
  filename,
  image_bytes,
  status,
  error_message,
  retryable,
  output_json,
  country_code,
  duration_ms
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, nullif($12, ''), $13, $14::jsonb, nullif($15, ''), $16);
`
