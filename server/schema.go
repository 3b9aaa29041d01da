package main

// Ids are uuid strings in both dialects. comments.user_id and
// activity.user_id carry no foreign key: anonymous clients may send any id.
// lists.seq and cards.seq record insertion order in postgres; sqlite uses
// its rowid.

const schemaPostgres = `
create table if not exists boards(
    id text primary key,
    name text not null check (length(name) > 0),
    description text not null default '',
    owner_id text,
    created_at timestamptz not null default now()
);
create table if not exists lists(
    id text primary key,
    title text not null check (length(title) > 0),
    board_id text not null references boards(id) on delete cascade,
    position integer not null default 0,
    seq bigserial,
    created_at timestamptz not null default now()
);
alter table lists add column if not exists seq bigserial;
create index if not exists lists_board_idx on lists(board_id);
create table if not exists cards(
    id text primary key,
    title text not null check (length(title) > 0),
    description text not null default '',
    list_id text not null references lists(id) on delete cascade,
    position integer not null default 0,
    due_date timestamptz,
    seq bigserial,
    created_at timestamptz not null default now()
);
alter table cards add column if not exists seq bigserial;
create index if not exists cards_list_idx on cards(list_id);
create index if not exists cards_due_idx on cards(due_date);
create table if not exists attachments(
    id text primary key,
    card_id text not null references cards(id) on delete cascade,
    stored_name text not null,
    file_name text not null,
    size bigint not null default 0,
    mime_type text not null default '',
    seq integer not null default 0,
    created_at timestamptz not null default now()
);
create index if not exists attachments_card_idx on attachments(card_id);
create table if not exists users(
    id text primary key,
    username text not null unique,
    email text not null unique,
    password_hash text not null,
    created_at timestamptz not null default now()
);
create table if not exists sessions(
    token text primary key,
    user_id text not null references users(id) on delete cascade,
    created_at timestamptz not null default now(),
    expires_at timestamptz not null
);
create table if not exists comments(
    id text primary key,
    card_id text not null references cards(id) on delete cascade,
    user_id text,
    content text not null check (length(content) > 0),
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists comments_card_idx on comments(card_id);
create table if not exists activity(
    id text primary key,
    card_id text not null references cards(id) on delete cascade,
    user_id text,
    action text not null,
    details text not null default '',
    created_at timestamptz not null default now()
);
create index if not exists activity_card_idx on activity(card_id, created_at desc);
create table if not exists templates(
    id text primary key,
    name text not null check (length(name) > 0),
    description text not null default '',
    template_data text not null,
    is_public boolean not null default true,
    created_at timestamptz not null default now()
);
`

const schemaSQLite = `
create table if not exists boards(
    id text primary key,
    name text not null check (length(name) > 0),
    description text not null default '',
    owner_id text,
    created_at timestamp not null
);
create table if not exists lists(
    id text primary key,
    title text not null check (length(title) > 0),
    board_id text not null references boards(id) on delete cascade,
    position integer not null default 0,
    created_at timestamp not null
);
create index if not exists lists_board_idx on lists(board_id);
create table if not exists cards(
    id text primary key,
    title text not null check (length(title) > 0),
    description text not null default '',
    list_id text not null references lists(id) on delete cascade,
    position integer not null default 0,
    due_date timestamp,
    created_at timestamp not null
);
create index if not exists cards_list_idx on cards(list_id);
create index if not exists cards_due_idx on cards(due_date);
create table if not exists attachments(
    id text primary key,
    card_id text not null references cards(id) on delete cascade,
    stored_name text not null,
    file_name text not null,
    size integer not null default 0,
    mime_type text not null default '',
    seq integer not null default 0,
    created_at timestamp not null
);
create index if not exists attachments_card_idx on attachments(card_id);
create table if not exists users(
    id text primary key,
    username text not null unique,
    email text not null unique,
    password_hash text not null,
    created_at timestamp not null
);
create table if not exists sessions(
    token text primary key,
    user_id text not null references users(id) on delete cascade,
    created_at timestamp not null,
    expires_at timestamp not null
);
create table if not exists comments(
    id text primary key,
    card_id text not null references cards(id) on delete cascade,
    user_id text,
    content text not null check (length(content) > 0),
    created_at timestamp not null,
    updated_at timestamp not null
);
create index if not exists comments_card_idx on comments(card_id);
create table if not exists activity(
    id text primary key,
    card_id text not null references cards(id) on delete cascade,
    user_id text,
    action text not null,
    details text not null default '',
    created_at timestamp not null
);
create index if not exists activity_card_idx on activity(card_id, created_at);
create table if not exists templates(
    id text primary key,
    name text not null check (length(name) > 0),
    description text not null default '',
    template_data text not null,
    is_public integer not null default 1,
    created_at timestamp not null
);
`
