package modpatch

const nativeWidth = Width32
