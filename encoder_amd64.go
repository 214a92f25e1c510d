package modpatch

const nativeWidth = Width64
